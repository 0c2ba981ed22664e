package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lumosfitness/storefront/internal/logging"
	"github.com/lumosfitness/storefront/internal/service/payment"
)

type WebhookHandler struct {
	Reconciler *payment.Reconciler
}

type webhookBody struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   struct {
		ID any `json:"id"`
	} `json:"data"`
}

// MercadoPago always gets a 200 back: reconciliation failures are ours
// to log and investigate, not the gateway's to retry forever. Delivery
// is at-least-once, so the reconciler tolerates replays.
func (h *WebhookHandler) MercadoPago(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "webhook.mercadopago")

	var body webhookBody
	if err := c.Bind(&body); err != nil {
		l.Warn("unreadable webhook body", "error", err)
		return c.NoContent(http.StatusOK)
	}

	// Some deliveries come as query params instead of a JSON body.
	paymentID := fmt.Sprint(body.Data.ID)
	if paymentID == "" || paymentID == "<nil>" {
		paymentID = c.QueryParam("id")
	}
	eventType := body.Type
	if eventType == "" {
		eventType = c.QueryParam("topic")
	}

	if eventType != "payment" || paymentID == "" {
		l.Info("ignoring webhook", "type", eventType)
		return c.NoContent(http.StatusOK)
	}

	if err := h.Reconciler.OnGatewayCallback(ctx, paymentID); err != nil {
		l.Error("reconciliation failed", "payment_id", paymentID, "error", err)
	}
	return c.NoContent(http.StatusOK)
}
