package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumosfitness/storefront/internal/coupon"
	"github.com/lumosfitness/storefront/internal/gateway"
	"github.com/lumosfitness/storefront/internal/logging"
	"github.com/lumosfitness/storefront/internal/models"
	"github.com/lumosfitness/storefront/internal/service/cart"
	"github.com/lumosfitness/storefront/internal/shipping"
	"github.com/lumosfitness/storefront/internal/stock"
)

const (
	MethodPix    = "pix"
	MethodCard   = "card"
	MethodBoleto = "boleto"
)

var (
	ErrEmptyCart = errors.New("checkout: cart is empty")

	// ErrPaymentInitiation is returned after the order was persisted but
	// the gateway call failed; the stock reservation has been reversed by
	// the time the caller sees it.
	ErrPaymentInitiation = errors.New("checkout: payment initiation failed")
)

// Shortage describes one line that cannot be fulfilled, with enough
// detail for the shopper to adjust the cart and retry.
type Shortage struct {
	ProductID uint   `json:"product_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

type StockUnavailableError struct {
	Items []Shortage
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("checkout: %d item(s) unavailable", len(e.Items))
}

type CustomerInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Document string `json:"document"`
}

type Request struct {
	SessionID     string
	Customer      CustomerInput
	Address       models.Address
	PaymentMethod string
	Shipping      shipping.Selection
	CouponCode    string
	Notes         string
}

// Confirmation is what a successful checkout returns: the durable order
// plus the gateway's payment instructions (PIX code or redirect URL).
type Confirmation struct {
	OrderID       uint    `json:"order_id"`
	Status        string  `json:"status"`
	Subtotal      float64 `json:"subtotal"`
	Shipping      float64 `json:"shipping"`
	Discount      float64 `json:"discount"`
	Total         float64 `json:"total"`
	PaymentMethod string  `json:"payment_method"`
	Payment       any     `json:"payment"`
}

// Orchestrator turns a cart into a pending, stock-reserved order and
// hands it to the payment gateway. Stock is reserved pessimistically at
// order creation: an abandoned checkout must not oversell, and the
// compensating reversal covers the case where the gateway call itself
// fails after the reservation committed.
type Orchestrator struct {
	DB      *gorm.DB
	Carts   *cart.Store
	Gateway gateway.Gateway
}

func NewOrchestrator(db *gorm.DB, carts *cart.Store, gw gateway.Gateway) *Orchestrator {
	return &Orchestrator{DB: db, Carts: carts, Gateway: gw}
}

func (o *Orchestrator) Process(ctx context.Context, req Request) (*Confirmation, error) {
	l := logging.FromContext(ctx).With("session_id", req.SessionID)

	// 1. Cart after revalidation. Get already dropped unavailable items.
	crt, err := o.Carts.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if len(crt.Items) == 0 {
		return nil, ErrEmptyCart
	}

	// 2. Availability against the durable store. This pass is advisory
	// (it produces the detailed shortage list); the binding check runs
	// again under row locks inside the transaction.
	if err := o.checkAvailability(ctx, o.DB, crt.Items, false); err != nil {
		return nil, err
	}

	// 3. Shipping selection must match an independent quote exactly.
	if err := shipping.Validate(crt.Items, crt.Total, req.Shipping); err != nil {
		return nil, err
	}

	// 4. Coupon.
	var discount float64
	if req.CouponCode != "" {
		discount, err = coupon.Apply(req.CouponCode, crt.Total)
		if err != nil {
			return nil, err
		}
	}

	// 5. Totals.
	subtotal := crt.Total
	total := round2(subtotal + req.Shipping.Price - discount)

	addressJSON, err := json.Marshal(req.Address)
	if err != nil {
		return nil, err
	}

	// 6. One transaction: customer upsert, order + items, stock
	// reservation. Partial failure leaves nothing behind.
	var (
		order models.Order
		items []models.OrderItem
	)
	txErr := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customerID, err := o.upsertCustomer(tx, req.Customer)
		if err != nil {
			return err
		}

		// Re-check under FOR UPDATE so two checkouts racing for the last
		// unit serialize here; the loser sees the decremented counter.
		if err := o.checkAvailability(ctx, tx, crt.Items, true); err != nil {
			return err
		}

		order = models.Order{
			CustomerID:      customerID,
			Status:          models.OrderPending,
			StockState:      models.StockReserved,
			Subtotal:        subtotal,
			Shipping:        req.Shipping.Price,
			Discount:        discount,
			Total:           total,
			PaymentMethod:   req.PaymentMethod,
			ShippingService: req.Shipping.Service,
			ShippingAddress: string(addressJSON),
			Notes:           req.Notes,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		items = make([]models.OrderItem, 0, len(crt.Items))
		for _, it := range crt.Items {
			oi := models.OrderItem{
				OrderID:   order.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: it.Price,
				Size:      it.Size,
				Color:     it.Color,
				Subtotal:  it.Subtotal,
			}
			if err := tx.Create(&oi).Error; err != nil {
				return err
			}
			items = append(items, oi)
		}

		return stock.Reserve(tx, order.ID, items)
	})
	if txErr != nil {
		if errors.Is(txErr, stock.ErrConflict) {
			// Lost the race after the advisory check passed.
			return nil, &StockUnavailableError{}
		}
		return nil, txErr
	}

	// 7. Gateway. The reservation is committed, so any failure here
	// (including timeout) must compensate before surfacing.
	instructions, paymentID, err := o.initiatePayment(ctx, &order, items, req.Customer)
	if err != nil {
		l.Error("payment initiation failed, reversing reservation", "order_id", order.ID, "error", err)
		if compErr := o.compensate(ctx, order.ID); compErr != nil {
			l.Error("stock compensation failed", "order_id", order.ID, "error", compErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitiation, err)
	}

	// 8. Attach payment reference, clear the cart, confirm.
	payloadJSON, _ := json.Marshal(instructions)
	err = o.DB.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{"payment_id": paymentID, "payment_payload": string(payloadJSON)}).Error
	if err != nil {
		return nil, err
	}
	o.logPayment(ctx, order.ID, "payment_created", string(payloadJSON), order.Status)

	if err := o.Carts.Clear(ctx, req.SessionID); err != nil {
		l.Warn("cart clear failed after checkout", "error", err)
	}

	l.Info("checkout completed", "order_id", order.ID, "total", total, "method", req.PaymentMethod)

	return &Confirmation{
		OrderID:       order.ID,
		Status:        order.Status,
		Subtotal:      subtotal,
		Shipping:      req.Shipping.Price,
		Discount:      discount,
		Total:         total,
		PaymentMethod: req.PaymentMethod,
		Payment:       instructions,
	}, nil
}

// checkAvailability verifies every line against current product rows.
// With forUpdate the product rows are locked for the rest of the
// transaction, serializing concurrent checkouts on the same products.
func (o *Orchestrator) checkAvailability(ctx context.Context, db *gorm.DB, items []models.CartItem, forUpdate bool) error {
	ids := make([]uint, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}

	q := db.WithContext(ctx)
	// Row locks serialize racing checkouts on postgres; sqlite (tests)
	// has no FOR UPDATE, there the guarded decrement in stock.Reserve is
	// the arbiter.
	if forUpdate && db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var products []models.Product
	if err := q.Where("id IN ?", ids).Find(&products).Error; err != nil {
		return err
	}
	byID := make(map[uint]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	var shortages []Shortage
	for _, it := range items {
		p, ok := byID[it.ProductID]
		switch {
		case !ok || !p.Active:
			shortages = append(shortages, Shortage{
				ProductID: it.ProductID,
				Name:      it.Name,
				Requested: it.Quantity,
				Reason:    "product unavailable",
			})
		case p.Stock < it.Quantity:
			shortages = append(shortages, Shortage{
				ProductID: it.ProductID,
				Name:      p.Name,
				Requested: it.Quantity,
				Available: p.Stock,
				Reason:    "insufficient stock",
			})
		}
	}
	if len(shortages) > 0 {
		return &StockUnavailableError{Items: shortages}
	}
	return nil
}

func (o *Orchestrator) upsertCustomer(tx *gorm.DB, in CustomerInput) (uint, error) {
	var existing models.Customer
	err := tx.First(&existing, "email = ?", in.Email).Error
	switch {
	case err == nil:
		existing.Name = in.Name
		existing.Phone = in.Phone
		existing.Document = in.Document
		if err := tx.Save(&existing).Error; err != nil {
			return 0, err
		}
		return existing.ID, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		created := models.Customer{
			Name:     in.Name,
			Email:    in.Email,
			Phone:    in.Phone,
			Document: in.Document,
		}
		if err := tx.Create(&created).Error; err != nil {
			return 0, err
		}
		return created.ID, nil
	default:
		return 0, err
	}
}

func (o *Orchestrator) initiatePayment(ctx context.Context, order *models.Order, items []models.OrderItem, in CustomerInput) (any, string, error) {
	customer := &models.Customer{Name: in.Name, Email: in.Email, Phone: in.Phone, Document: in.Document}

	if order.PaymentMethod == MethodPix {
		p, err := o.Gateway.CreateInstantPayment(ctx, order, customer, order.Total)
		if err != nil {
			return nil, "", err
		}
		return p, p.PaymentID, nil
	}

	p, err := o.Gateway.CreateRedirectPayment(ctx, order, items, customer, order.Total)
	if err != nil {
		return nil, "", err
	}
	return p, p.PaymentID, nil
}

// compensate reverses the committed reservation after a gateway failure.
// The order row stays, still pending, so a later retry can reference it.
func (o *Orchestrator) compensate(ctx context.Context, orderID uint) error {
	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return stock.Release(tx, orderID, stock.ReasonReversal)
	})
	if errors.Is(err, stock.ErrAlreadySettled) {
		return nil
	}
	if err == nil {
		o.logPayment(ctx, orderID, "payment_error", "", models.OrderPending)
	}
	return err
}

func (o *Orchestrator) logPayment(ctx context.Context, orderID uint, event, payload, status string) {
	entry := models.PaymentLog{
		OrderID: orderID,
		Gateway: "mercadopago",
		Event:   event,
		Payload: payload,
		Status:  status,
	}
	if err := o.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		logging.FromContext(ctx).Warn("payment log write failed", "order_id", orderID, "error", err)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
