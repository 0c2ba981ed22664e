package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lumosfitness/storefront/internal/coupon"
	"github.com/lumosfitness/storefront/internal/logging"
	"github.com/lumosfitness/storefront/internal/models"
	"github.com/lumosfitness/storefront/internal/mykafka"
	"github.com/lumosfitness/storefront/internal/service/cart"
	"github.com/lumosfitness/storefront/internal/service/checkout"
	"github.com/lumosfitness/storefront/internal/shipping"
)

type CheckoutHandler struct {
	Orchestrator *checkout.Orchestrator
	Carts        *cart.Store
	Producer     *mykafka.Producer
}

type checkoutRequest struct {
	SessionID     string                 `json:"session_id"`
	Customer      checkout.CustomerInput `json:"customer"`
	Address       models.Address         `json:"address"`
	PaymentMethod string                 `json:"payment_method"`
	Shipping      shipping.Selection     `json:"shipping"`
	Coupon        string                 `json:"coupon,omitempty"`
	Notes         string                 `json:"notes,omitempty"`
}

func (r *checkoutRequest) validate() error {
	switch {
	case r.SessionID == "":
		return fmt.Errorf("session_id is required")
	case r.Customer.Name == "" || r.Customer.Email == "":
		return fmt.Errorf("customer name and email are required")
	case r.Address.Zip == "" || r.Address.Street == "" || r.Address.City == "":
		return fmt.Errorf("shipping address is incomplete")
	case r.PaymentMethod != checkout.MethodPix &&
		r.PaymentMethod != checkout.MethodCard &&
		r.PaymentMethod != checkout.MethodBoleto:
		return fmt.Errorf("unsupported payment method %q", r.PaymentMethod)
	case r.Shipping.Service == "":
		return fmt.Errorf("shipping service is required")
	}
	return nil
}

func (h *CheckoutHandler) ProcessCheckout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.process")

	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := req.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conf, err := h.Orchestrator.Process(ctx, checkout.Request{
		SessionID:     req.SessionID,
		Customer:      req.Customer,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
		Shipping:      req.Shipping,
		CouponCode:    req.Coupon,
		Notes:         req.Notes,
	})
	if err != nil {
		return checkoutError(ctx, err)
	}

	h.publish(c, map[string]any{
		"type":      "order_created",
		"sessionID": req.SessionID,
		"orderID":   conf.OrderID,
		"total":     conf.Total,
		"method":    conf.PaymentMethod,
	})
	l.Info("order created", "order_id", conf.OrderID, "total", conf.Total)

	return c.JSON(http.StatusCreated, conf)
}

func (h *CheckoutHandler) GetSummary(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionID")

	crt, err := h.Carts.Get(ctx, sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot load cart")
	}
	if len(crt.Items) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "cart is empty")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"items":    crt.Items,
		"subtotal": crt.Total,
		"shipping": shipping.Quote(crt.Items, crt.Total),
	})
}

func (h *CheckoutHandler) publish(c echo.Context, event map[string]any) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "order_events", fmt.Sprint(event["orderID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Warn("kafka publish failed", "error", err)
	}
}

func checkoutError(ctx context.Context, err error) error {
	var (
		stockErr    *checkout.StockUnavailableError
		shipErr     *shipping.MismatchError
		couponErr   *coupon.InvalidError
	)

	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		return echo.NewHTTPError(http.StatusBadRequest, "cart is empty or session is invalid")
	case errors.As(err, &stockErr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]any{
			"message":           "some products are no longer available",
			"unavailable_items": stockErr.Items,
		})
	case errors.As(err, &shipErr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]any{
			"message":      "shipping price is out of date",
			"service":      shipErr.Service,
			"quoted_price": shipErr.Quoted,
		})
	case errors.Is(err, shipping.ErrUnknownService):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown shipping service")
	case errors.As(err, &couponErr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]any{
			"message": "invalid coupon",
			"reason":  couponErr.Reason,
		})
	case errors.Is(err, checkout.ErrPaymentInitiation):
		// Stock was already restored; the client may retry checkout.
		return echo.NewHTTPError(http.StatusBadGateway, "payment could not be initiated, please try again")
	default:
		logging.FromContext(ctx).Error("checkout failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot process order")
	}
}
