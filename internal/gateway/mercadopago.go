package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumosfitness/storefront/internal/models"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"
	requestTimeout = 10 * time.Second
)

// MercadoPago talks to the Mercado Pago REST API. Every call carries a
// bounded timeout; a timeout is reported like any other gateway failure
// so the orchestrator can compensate.
type MercadoPago struct {
	accessToken     string
	baseURL         string
	notificationURL string
	backURL         string
	http            *http.Client
}

func NewMercadoPago(accessToken, baseURL, apiURL, frontendURL string) *MercadoPago {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &MercadoPago{
		accessToken:     accessToken,
		baseURL:         strings.TrimRight(baseURL, "/"),
		notificationURL: apiURL + "/api/v1/webhooks/mercadopago",
		backURL:         frontendURL,
		http:            &http.Client{Timeout: requestTimeout},
	}
}

type mpPaymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount float64     `json:"transaction_amount"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (g *MercadoPago) CreateInstantPayment(ctx context.Context, order *models.Order, customer *models.Customer, amount float64) (*InstantPayment, error) {
	first, last := splitName(customer.Name)
	payload := map[string]any{
		"transaction_amount": amount,
		"description":        fmt.Sprintf("Lumos Fitness order #%d", order.ID),
		"payment_method_id":  "pix",
		"payer": map[string]any{
			"first_name": first,
			"last_name":  last,
			"email":      customer.Email,
			"identification": map[string]string{
				"type":   "CPF",
				"number": digits(customer.Document),
			},
		},
		"external_reference": strconv.FormatUint(uint64(order.ID), 10),
		"notification_url":   g.notificationURL,
	}

	var resp mpPaymentResponse
	if _, err := g.do(ctx, http.MethodPost, "/v1/payments", payload, &resp); err != nil {
		return nil, fmt.Errorf("mercadopago: create pix payment: %w", err)
	}

	return &InstantPayment{
		PaymentID:    resp.ID.String(),
		Status:       resp.Status,
		QRCode:       resp.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: resp.PointOfInteraction.TransactionData.QRCodeBase64,
		CopyPaste:    resp.PointOfInteraction.TransactionData.QRCode,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}, nil
}

type mpPreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

func (g *MercadoPago) CreateRedirectPayment(ctx context.Context, order *models.Order, items []models.OrderItem, customer *models.Customer, amount float64) (*RedirectPayment, error) {
	prefItems := make([]map[string]any, 0, len(items)+1)
	for _, it := range items {
		prefItems = append(prefItems, map[string]any{
			"id":          strconv.FormatUint(uint64(it.ProductID), 10),
			"title":       fmt.Sprintf("%s / %s", it.Size, it.Color),
			"category_id": "fashion",
			"quantity":    it.Quantity,
			"unit_price":  it.UnitPrice,
			"currency_id": "BRL",
		})
	}
	if order.Shipping > 0 {
		prefItems = append(prefItems, map[string]any{
			"id":          "shipping",
			"title":       "Shipping",
			"category_id": "services",
			"quantity":    1,
			"unit_price":  order.Shipping,
			"currency_id": "BRL",
		})
	}
	if order.Discount > 0 {
		prefItems = append(prefItems, map[string]any{
			"id":          "discount",
			"title":       "Discount",
			"category_id": "discount",
			"quantity":    1,
			"unit_price":  -order.Discount,
			"currency_id": "BRL",
		})
	}

	first, last := splitName(customer.Name)
	payload := map[string]any{
		"items": prefItems,
		"payer": map[string]any{
			"name":    first,
			"surname": last,
			"email":   customer.Email,
			"identification": map[string]string{
				"type":   "CPF",
				"number": digits(customer.Document),
			},
		},
		"external_reference": strconv.FormatUint(uint64(order.ID), 10),
		"notification_url":   g.notificationURL,
		"auto_return":        "approved",
		"back_urls": map[string]string{
			"success": g.backURL + "/checkout/success",
			"failure": g.backURL + "/checkout/error",
			"pending": g.backURL + "/checkout/pending",
		},
		"expires":             true,
		"expiration_date_to":  time.Now().Add(30 * time.Minute).Format(time.RFC3339),
		"metadata": map[string]any{
			"order_id": order.ID,
			"total":    amount,
		},
	}

	var resp mpPreferenceResponse
	if _, err := g.do(ctx, http.MethodPost, "/checkout/preferences", payload, &resp); err != nil {
		return nil, fmt.Errorf("mercadopago: create preference: %w", err)
	}

	return &RedirectPayment{PaymentID: resp.ID, RedirectURL: resp.InitPoint}, nil
}

func (g *MercadoPago) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var resp mpPaymentResponse
	raw, err := g.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: get payment %s: %w", paymentID, err)
	}

	return &Payment{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		StatusDetail:      resp.StatusDetail,
		ExternalReference: resp.ExternalReference,
		Amount:            resp.TransactionAmount,
		Raw:               raw,
	}, nil
}

func (g *MercadoPago) do(ctx context.Context, method, path string, payload, dest any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}
	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], parts[0]
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
