package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lumosfitness/storefront/internal/models"
)

// InstantPayment is the result of a PIX-style payment creation: the
// shopper pays by scanning/pasting the code, confirmation arrives later
// through the webhook.
type InstantPayment struct {
	PaymentID    string    `json:"payment_id"`
	Status       string    `json:"status"`
	QRCode       string    `json:"qr_code,omitempty"`
	QRCodeBase64 string    `json:"qr_code_base64,omitempty"`
	CopyPaste    string    `json:"copy_paste,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RedirectPayment is the result of a preference-style payment: the
// shopper finishes on the gateway's hosted page.
type RedirectPayment struct {
	PaymentID   string `json:"payment_id"`
	RedirectURL string `json:"redirect_url"`
}

// Payment is the gateway's authoritative view of a payment attempt,
// re-queried during webhook reconciliation.
type Payment struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail,omitempty"`
	ExternalReference string          `json:"external_reference"`
	Amount            float64         `json:"amount"`
	Raw               json.RawMessage `json:"-"`
}

type Gateway interface {
	CreateInstantPayment(ctx context.Context, order *models.Order, customer *models.Customer, amount float64) (*InstantPayment, error)
	CreateRedirectPayment(ctx context.Context, order *models.Order, items []models.OrderItem, customer *models.Customer, amount float64) (*RedirectPayment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}
