package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumosfitness/storefront/internal/config"
	"github.com/lumosfitness/storefront/internal/coupon"
	"github.com/lumosfitness/storefront/internal/gateway"
	"github.com/lumosfitness/storefront/internal/models"
	"github.com/lumosfitness/storefront/internal/service/cart"
	"github.com/lumosfitness/storefront/internal/shipping"
	"github.com/lumosfitness/storefront/internal/stock"
)

func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.Migrate(db))
	return db
}

type fakeCache struct {
	data  map[string][]byte
	onSet func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	if f.onSet != nil {
		f.onSet()
	}
	return nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

// fakeGateway scripts payment creation without a live gateway.
type fakeGateway struct {
	failInstant  bool
	failRedirect bool
	payments     map[string]*gateway.Payment
}

func (g *fakeGateway) CreateInstantPayment(_ context.Context, _ *models.Order, _ *models.Customer, _ float64) (*gateway.InstantPayment, error) {
	if g.failInstant {
		return nil, errors.New("gateway unavailable")
	}
	return &gateway.InstantPayment{
		PaymentID: "pay-1",
		Status:    "pending",
		CopyPaste: "00020126pixcode",
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}, nil
}

func (g *fakeGateway) CreateRedirectPayment(_ context.Context, _ *models.Order, _ []models.OrderItem, _ *models.Customer, _ float64) (*gateway.RedirectPayment, error) {
	if g.failRedirect {
		return nil, errors.New("gateway unavailable")
	}
	return &gateway.RedirectPayment{PaymentID: "pref-1", RedirectURL: "https://gateway.test/checkout/pref-1"}, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, paymentID string) (*gateway.Payment, error) {
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, errors.New("payment not found")
	}
	return p, nil
}

type env struct {
	db    *gorm.DB
	cache *fakeCache
	gw    *fakeGateway
	carts *cart.Store
	orc   *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := initTestDB(t)
	fc := newFakeCache()
	gw := &fakeGateway{}
	carts := cart.NewStore(db, fc)
	return &env{db: db, cache: fc, gw: gw, carts: carts, orc: NewOrchestrator(db, carts, gw)}
}

func (e *env) seedProduct(t *testing.T, name string, price float64, stock int) *models.Product {
	t.Helper()
	p := models.Product{Name: name, Price: price, Stock: stock, Active: true, Sizes: "P,M,G", Colors: "black,white"}
	require.NoError(t, e.db.Create(&p).Error)
	return &p
}

func (e *env) addToCart(t *testing.T, sessionID string, productID uint, qty int) {
	t.Helper()
	_, err := e.carts.AddItem(context.Background(), sessionID, productID, qty, "M", "black")
	require.NoError(t, err)
}

func baseRequest(sessionID string) Request {
	return Request{
		SessionID:     sessionID,
		Customer:      CustomerInput{Name: "Ana Souza", Email: "ana@example.com", Phone: "11999990000"},
		Address:       models.Address{Zip: "01310-100", Street: "Av. Paulista", Number: "1000", City: "São Paulo", State: "SP"},
		PaymentMethod: MethodPix,
		Shipping:      shipping.Selection{Service: "standard", Price: 15.00},
	}
}

func TestProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	p := e.seedProduct(t, "Legging Flow", 100.00, 2)
	e.addToCart(t, "s1", p.ID, 2)

	conf, err := e.orc.Process(ctx, baseRequest("s1"))
	require.NoError(t, err)

	require.Equal(t, 200.00, conf.Subtotal)
	require.Equal(t, 15.00, conf.Shipping)
	require.Zero(t, conf.Discount)
	require.Equal(t, 215.00, conf.Total)
	require.Equal(t, conf.Subtotal+conf.Shipping-conf.Discount, conf.Total)
	require.Equal(t, models.OrderPending, conf.Status)

	instant, ok := conf.Payment.(*gateway.InstantPayment)
	require.True(t, ok)
	require.Equal(t, "pay-1", instant.PaymentID)

	// Stock went down exactly once.
	var fresh models.Product
	require.NoError(t, e.db.First(&fresh, p.ID).Error)
	require.Equal(t, 0, fresh.Stock)

	var order models.Order
	require.NoError(t, e.db.First(&order, conf.OrderID).Error)
	require.Equal(t, models.OrderPending, order.Status)
	require.Equal(t, models.StockReserved, order.StockState)
	require.Equal(t, "pay-1", order.PaymentID)
	require.Equal(t, "standard", order.ShippingService)
	require.Equal(t, 215.00, order.Total)

	var items []models.OrderItem
	require.NoError(t, e.db.Where("order_id = ?", order.ID).Find(&items).Error)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].Quantity)
	require.Equal(t, 100.00, items[0].UnitPrice)

	var movements []models.StockMovement
	require.NoError(t, e.db.Where("order_id = ?", order.ID).Find(&movements).Error)
	require.Len(t, movements, 1)
	require.Equal(t, models.MovementOut, movements[0].Direction)
	require.Equal(t, 2, movements[0].Quantity)
	require.Equal(t, stock.ReasonReservation, movements[0].Reason)

	var customer models.Customer
	require.NoError(t, e.db.First(&customer, "email = ?", "ana@example.com").Error)
	require.Equal(t, customer.ID, order.CustomerID)

	var logs []models.PaymentLog
	require.NoError(t, e.db.Where("order_id = ?", order.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "payment_created", logs[0].Event)

	// The cart is gone from both layers.
	crt, err := e.carts.Get(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, crt.Items)
}

func TestProcessRedirectMethod(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, "Top Active", 80.00, 5)
	e.addToCart(t, "s1", p.ID, 1)

	req := baseRequest("s1")
	req.PaymentMethod = MethodCard

	conf, err := e.orc.Process(context.Background(), req)
	require.NoError(t, err)

	redirect, ok := conf.Payment.(*gateway.RedirectPayment)
	require.True(t, ok)
	require.Equal(t, "pref-1", redirect.PaymentID)

	var order models.Order
	require.NoError(t, e.db.First(&order, conf.OrderID).Error)
	require.Equal(t, MethodCard, order.PaymentMethod)
	require.Equal(t, "pref-1", order.PaymentID)
}

func TestProcessEmptyCart(t *testing.T) {
	e := newEnv(t)

	_, err := e.orc.Process(context.Background(), baseRequest("nobody"))
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestProcessStockTakenAfterCartRead(t *testing.T) {
	// A concurrent sale empties the shelf between the cart read and the
	// availability check; checkout must refuse with the shortage detail.
	e := newEnv(t)
	p := e.seedProduct(t, "Legging Flow", 100.00, 2)
	e.addToCart(t, "s1", p.ID, 2)

	e.cache.onSet = func() {
		require.NoError(t, e.db.Model(&models.Product{}).Where("id = ?", p.ID).Update("stock", 0).Error)
	}

	_, err := e.orc.Process(context.Background(), baseRequest("s1"))
	var stockErr *StockUnavailableError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Items, 1)
	require.Equal(t, "insufficient stock", stockErr.Items[0].Reason)
	require.Equal(t, 2, stockErr.Items[0].Requested)
	require.Equal(t, 0, stockErr.Items[0].Available)

	// Nothing was persisted.
	var orders int64
	require.NoError(t, e.db.Model(&models.Order{}).Count(&orders).Error)
	require.Zero(t, orders)
}

func TestProcessLastUnitRace(t *testing.T) {
	// Two sessions hold the same last unit; only one checkout wins, the
	// other finds its cart revalidated down to nothing.
	ctx := context.Background()
	e := newEnv(t)
	p := e.seedProduct(t, "Limited Drop", 120.00, 1)
	e.addToCart(t, "s1", p.ID, 1)
	e.addToCart(t, "s2", p.ID, 1)

	_, err := e.orc.Process(ctx, baseRequest("s1"))
	require.NoError(t, err)

	req2 := baseRequest("s2")
	req2.Customer.Email = "bia@example.com"
	_, err = e.orc.Process(ctx, req2)
	require.Error(t, err)

	var orders int64
	require.NoError(t, e.db.Model(&models.Order{}).Count(&orders).Error)
	require.Equal(t, int64(1), orders)

	var fresh models.Product
	require.NoError(t, e.db.First(&fresh, p.ID).Error)
	require.Equal(t, 0, fresh.Stock)
}

func TestProcessCouponApplied(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, "Legging Flow", 100.00, 5)
	e.addToCart(t, "s1", p.ID, 2)

	req := baseRequest("s1")
	req.CouponCode = "WELCOME10"

	conf, err := e.orc.Process(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 20.00, conf.Discount)
	require.Equal(t, 195.00, conf.Total)

	var order models.Order
	require.NoError(t, e.db.First(&order, conf.OrderID).Error)
	require.Equal(t, 20.00, order.Discount)
	require.Equal(t, 195.00, order.Total)
}

func TestProcessCouponBelowMinimum(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, "Top Active", 75.00, 5)
	e.addToCart(t, "s1", p.ID, 2)

	req := baseRequest("s1")
	req.CouponCode = "LUMOS20"

	_, err := e.orc.Process(context.Background(), req)
	var couponErr *coupon.InvalidError
	require.ErrorAs(t, err, &couponErr)
	require.Equal(t, "LUMOS20", couponErr.Code)

	var orders int64
	require.NoError(t, e.db.Model(&models.Order{}).Count(&orders).Error)
	require.Zero(t, orders)

	var fresh models.Product
	require.NoError(t, e.db.First(&fresh, p.ID).Error)
	require.Equal(t, 5, fresh.Stock)
}

func TestProcessShippingMismatch(t *testing.T) {
	e := newEnv(t)
	p := e.seedProduct(t, "Top Active", 80.00, 5)
	e.addToCart(t, "s1", p.ID, 1)

	req := baseRequest("s1")
	req.Shipping.Price = 9.99

	_, err := e.orc.Process(context.Background(), req)
	var mismatch *shipping.MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 15.00, mismatch.Quoted)

	req.Shipping = shipping.Selection{Service: "drone", Price: 5.00}
	_, err = e.orc.Process(context.Background(), req)
	require.ErrorIs(t, err, shipping.ErrUnknownService)

	// Free shipping is not offered below the threshold.
	req.Shipping = shipping.Selection{Service: "free", Price: 0}
	_, err = e.orc.Process(context.Background(), req)
	require.ErrorIs(t, err, shipping.ErrUnknownService)
}

func TestProcessGatewayFailureCompensates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.gw.failInstant = true
	p := e.seedProduct(t, "Legging Flow", 100.00, 2)
	e.addToCart(t, "s1", p.ID, 2)

	_, err := e.orc.Process(ctx, baseRequest("s1"))
	require.ErrorIs(t, err, ErrPaymentInitiation)

	// The order survives for a retry, but its reservation was reversed.
	var order models.Order
	require.NoError(t, e.db.First(&order).Error)
	require.Equal(t, models.OrderPending, order.Status)
	require.Equal(t, models.StockReleased, order.StockState)

	var fresh models.Product
	require.NoError(t, e.db.First(&fresh, p.ID).Error)
	require.Equal(t, 2, fresh.Stock)

	var movements []models.StockMovement
	require.NoError(t, e.db.Order("id ASC").Find(&movements).Error)
	require.Len(t, movements, 2)
	require.Equal(t, models.MovementOut, movements[0].Direction)
	require.Equal(t, models.MovementIn, movements[1].Direction)
	require.Equal(t, stock.ReasonReversal, movements[1].Reason)

	var logs []models.PaymentLog
	require.NoError(t, e.db.Where("order_id = ?", order.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "payment_error", logs[0].Event)

	// The cart is kept so the shopper can try again.
	crt, err := e.carts.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, crt.Items, 1)
}
