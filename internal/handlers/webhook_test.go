package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumosfitness/storefront/internal/gateway"
	"github.com/lumosfitness/storefront/internal/models"
	"github.com/lumosfitness/storefront/internal/service/payment"
)

type stubGateway struct {
	payments map[string]*gateway.Payment
}

func (g *stubGateway) CreateInstantPayment(context.Context, *models.Order, *models.Customer, float64) (*gateway.InstantPayment, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) CreateRedirectPayment(context.Context, *models.Order, []models.OrderItem, *models.Customer, float64) (*gateway.RedirectPayment, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) GetPayment(_ context.Context, paymentID string) (*gateway.Payment, error) {
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, errors.New("payment not found")
	}
	return p, nil
}

func seedReservedOrder(t *testing.T, db *gorm.DB) (*models.Order, *models.Product) {
	t.Helper()

	product := models.Product{Name: "Legging Flow", Price: 100.00, Stock: 3, Active: true}
	require.NoError(t, db.Create(&product).Error)

	customer := models.Customer{Name: "Ana Souza", Email: "ana@example.com"}
	require.NoError(t, db.Create(&customer).Error)

	order := models.Order{
		CustomerID:    customer.ID,
		Status:        models.OrderPending,
		StockState:    models.StockReserved,
		Subtotal:      200.00,
		Shipping:      15.00,
		Total:         215.00,
		PaymentMethod: "pix",
	}
	require.NoError(t, db.Create(&order).Error)

	item := models.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 2, UnitPrice: 100.00, Subtotal: 200.00}
	require.NoError(t, db.Create(&item).Error)

	return &order, &product
}

func TestWebhookRejectedPayment(t *testing.T) {
	db := initTestDB(t)
	order, product := seedReservedOrder(t, db)

	raw, _ := json.Marshal(map[string]any{"id": "p1", "status": "rejected"})
	gw := &stubGateway{payments: map[string]*gateway.Payment{
		"p1": {
			ID:                "p1",
			Status:            "rejected",
			ExternalReference: strconv.FormatUint(uint64(order.ID), 10),
			Raw:               raw,
		},
	}}
	h := &WebhookHandler{Reconciler: payment.NewReconciler(db, gw)}
	e := echo.New()

	c, rec := jsonContext(t, e, http.MethodPost, "/webhooks/mercadopago", map[string]any{
		"type": "payment",
		"data": map[string]any{"id": "p1"},
	})

	require.NoError(t, h.MercadoPago(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var fresh models.Order
	require.NoError(t, db.First(&fresh, order.ID).Error)
	require.Equal(t, models.OrderRejected, fresh.Status)
	require.Equal(t, models.StockReleased, fresh.StockState)

	var freshProduct models.Product
	require.NoError(t, db.First(&freshProduct, product.ID).Error)
	require.Equal(t, 5, freshProduct.Stock)

	// A replayed delivery via query params still acks and changes nothing.
	c, rec = jsonContext(t, e, http.MethodPost, "/webhooks/mercadopago?id=p1&topic=payment", nil)
	require.NoError(t, h.MercadoPago(c))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, db.First(&freshProduct, product.ID).Error)
	require.Equal(t, 5, freshProduct.Stock)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	db := initTestDB(t)
	h := &WebhookHandler{Reconciler: payment.NewReconciler(db, &stubGateway{})}
	e := echo.New()

	c, rec := jsonContext(t, e, http.MethodPost, "/webhooks/mercadopago", map[string]any{
		"type": "test",
		"data": map[string]any{"id": "123"},
	})

	require.NoError(t, h.MercadoPago(c))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAcksOnReconcileFailure(t *testing.T) {
	// The gateway retries on non-2xx; reconciliation failures are our
	// problem, so the handler acks regardless.
	db := initTestDB(t)
	h := &WebhookHandler{Reconciler: payment.NewReconciler(db, &stubGateway{payments: map[string]*gateway.Payment{}})}
	e := echo.New()

	c, rec := jsonContext(t, e, http.MethodPost, "/webhooks/mercadopago", map[string]any{
		"type": "payment",
		"data": map[string]any{"id": "missing"},
	})

	require.NoError(t, h.MercadoPago(c))
	require.Equal(t, http.StatusOK, rec.Code)
}
