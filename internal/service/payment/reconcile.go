package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/lumosfitness/storefront/internal/gateway"
	"github.com/lumosfitness/storefront/internal/logging"
	"github.com/lumosfitness/storefront/internal/models"
	"github.com/lumosfitness/storefront/internal/stock"
)

// ErrUnknownOrderReference means the gateway payment does not point at
// any order we know. Logged and acknowledged, never retried: the
// gateway's delivery guarantees are not our concern.
var ErrUnknownOrderReference = errors.New("payment: unknown order reference")

// statusMap translates gateway payment status into order status.
// Anything unmapped stays pending.
var statusMap = map[string]string{
	"approved":     models.OrderApproved,
	"pending":      models.OrderPendingPayment,
	"authorized":   models.OrderAuthorized,
	"in_process":   models.OrderProcessing,
	"in_mediation": models.OrderInMediation,
	"rejected":     models.OrderRejected,
	"cancelled":    models.OrderCancelled,
	"refunded":     models.OrderRefunded,
	"charged_back": models.OrderChargedBack,
}

func MapStatus(gatewayStatus string) string {
	if s, ok := statusMap[gatewayStatus]; ok {
		return s
	}
	return models.OrderPending
}

// Effect is the stock side effect a status transition asks for.
type Effect int

const (
	EffectNone Effect = iota
	// EffectCapture finalizes the reservation made at checkout. No
	// counters move; the units were already debited once.
	EffectCapture
	// EffectRelease returns reserved units to stock on a terminal
	// non-approval outcome.
	EffectRelease
)

// Transition is the pure half of reconciliation: given the gateway
// status, it yields the order status to persist and the stock effect to
// apply. Keeping it side-effect free is what makes the webhook handler
// testable without a live gateway.
func Transition(gatewayStatus string) (orderStatus string, effect Effect) {
	orderStatus = MapStatus(gatewayStatus)
	switch orderStatus {
	case models.OrderApproved:
		return orderStatus, EffectCapture
	case models.OrderRejected, models.OrderCancelled, models.OrderRefunded, models.OrderChargedBack:
		return orderStatus, EffectRelease
	default:
		return orderStatus, EffectNone
	}
}

// Reconciler maps asynchronous gateway callbacks onto order state.
// Callbacks are at-least-once; every step tolerates replay.
type Reconciler struct {
	DB      *gorm.DB
	Gateway gateway.Gateway
}

func NewReconciler(db *gorm.DB, gw gateway.Gateway) *Reconciler {
	return &Reconciler{DB: db, Gateway: gw}
}

// OnGatewayCallback handles one webhook delivery. The callback payload
// is only a trigger: the authoritative status is re-queried from the
// gateway before anything is persisted.
func (r *Reconciler) OnGatewayCallback(ctx context.Context, gatewayPaymentID string) error {
	l := logging.FromContext(ctx).With("payment_id", gatewayPaymentID)

	p, err := r.Gateway.GetPayment(ctx, gatewayPaymentID)
	if err != nil {
		return fmt.Errorf("payment: query gateway: %w", err)
	}

	orderID, err := strconv.ParseUint(p.ExternalReference, 10, 32)
	if err != nil || orderID == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownOrderReference, p.ExternalReference)
	}

	var order models.Order
	err = r.DB.WithContext(ctx).First(&order, "id = ?", uint(orderID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: order %d", ErrUnknownOrderReference, orderID)
	}
	if err != nil {
		return err
	}

	newStatus, effect := Transition(p.Status)

	txErr := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":          newStatus,
			"payment_id":      p.ID,
			"payment_payload": string(p.Raw),
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
			return err
		}

		entry := models.PaymentLog{
			OrderID: order.ID,
			Gateway: "mercadopago",
			Event:   "webhook_received",
			Payload: string(p.Raw),
			Status:  p.Status,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		switch effect {
		case EffectCapture:
			err = stock.Capture(tx, order.ID)
		case EffectRelease:
			err = stock.Release(tx, order.ID, stock.ReasonReleased)
		default:
			return nil
		}
		if errors.Is(err, stock.ErrAlreadySettled) {
			// Replayed terminal callback; the first delivery already
			// settled the reservation.
			l.Info("reservation already settled, skipping stock effect", "order_id", order.ID, "status", newStatus)
			return nil
		}
		return err
	})
	if txErr != nil {
		return txErr
	}

	l.Info("order reconciled", "order_id", order.ID, "gateway_status", p.Status, "status", newStatus)
	return nil
}
