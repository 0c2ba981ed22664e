package models

import (
	"strings"
	"time"
)

// Order payment statuses. "pending" is what checkout writes; everything
// else is set by payment reconciliation from the gateway status.
const (
	OrderPending        = "pending"
	OrderApproved       = "approved"
	OrderPendingPayment = "pending_payment"
	OrderAuthorized     = "authorized"
	OrderProcessing     = "processing"
	OrderInMediation    = "in_mediation"
	OrderRejected       = "rejected"
	OrderCancelled      = "cancelled"
	OrderRefunded       = "refunded"
	OrderChargedBack    = "charged_back"
)

// Stock lifecycle of an order's reservation. Checkout decrements stock
// exactly once and leaves the order "reserved"; reconciliation either
// captures the reservation (approval) or releases it back to stock
// (terminal non-approval). Each transition fires at most once.
const (
	StockReserved = "reserved"
	StockCaptured = "captured"
	StockReleased = "released"
)

const (
	MovementIn  = "in"
	MovementOut = "out"
)

type Product struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"not null"                 json:"name"`
	Description string    `json:"description"`
	Price       float64   `gorm:"not null"                 json:"price"`
	Stock       int       `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	Active      bool      `gorm:"not null;default:true"    json:"active"`
	Sizes       string    `json:"sizes"`
	Colors      string    `json:"colors"`
	Image       string    `json:"image"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Product) HasSize(size string) bool   { return hasOption(p.Sizes, size) }
func (p *Product) HasColor(color string) bool { return hasOption(p.Colors, color) }

func hasOption(list, want string) bool {
	for _, opt := range strings.Split(list, ",") {
		if strings.TrimSpace(opt) == want {
			return true
		}
	}
	return false
}

type Customer struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null"                 json:"name"`
	Email     string    `gorm:"unique;not null"          json:"email"`
	Phone     string    `json:"phone"`
	Document  string    `json:"document"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cart is the durable fallback row for a session's cart. Items are kept
// as a serialized JSON payload, mirroring what the cache layer stores.
type Cart struct {
	SessionID string    `gorm:"primaryKey" json:"session_id"`
	Items     string    `gorm:"type:text"  json:"-"`
	Total     float64   `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartItem lives inside the serialized cart payload, not in its own
// table. Price and Stock are refreshed against the product row on every
// read.
type CartItem struct {
	ID        string  `json:"id"`
	ProductID uint    `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Size      string  `json:"size"`
	Color     string  `json:"color"`
	Subtotal  float64 `json:"subtotal"`
	Stock     int     `json:"stock"`
	Image     string  `json:"image,omitempty"`
}

type Address struct {
	Zip        string `json:"zip"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
}

type Order struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"  json:"id"`
	CustomerID      uint      `gorm:"index;not null"            json:"customer_id"`
	Status          string    `gorm:"not null;default:pending"  json:"status"`
	StockState      string    `gorm:"not null;default:reserved" json:"stock_state"`
	Subtotal        float64   `gorm:"not null"                  json:"subtotal"`
	Shipping        float64   `gorm:"not null"                  json:"shipping"`
	Discount        float64   `gorm:"not null;default:0"        json:"discount"`
	Total           float64   `gorm:"not null"                  json:"total"`
	PaymentMethod   string    `gorm:"not null"                  json:"payment_method"`
	PaymentID       string    `gorm:"index"                     json:"payment_id,omitempty"`
	PaymentPayload  string    `gorm:"type:text"                 json:"-"`
	ShippingService string    `json:"shipping_service"`
	ShippingAddress string    `gorm:"type:text"                 json:"-"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OrderItem snapshots the cart line at checkout time; UnitPrice never
// changes after that, whatever happens to the product row.
type OrderItem struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint    `gorm:"index;not null" json:"order_id"`
	ProductID uint    `gorm:"not null"       json:"product_id"`
	Quantity  int     `gorm:"not null"       json:"quantity"`
	UnitPrice float64 `gorm:"not null"       json:"unit_price"`
	Size      string  `json:"size"`
	Color     string  `json:"color"`
	Subtotal  float64 `gorm:"not null"       json:"subtotal"`
}

// StockMovement is append-only; rows are never updated or deleted.
type StockMovement struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID uint      `gorm:"index;not null" json:"product_id"`
	Direction string    `gorm:"not null"       json:"direction"`
	Quantity  int       `gorm:"not null"       json:"quantity"`
	Reason    string    `gorm:"not null"       json:"reason"`
	OrderID   *uint     `gorm:"index"          json:"order_id,omitempty"`
	Actor     string    `gorm:"not null"       json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentLog records every gateway-side event for an order; one order
// may accumulate several attempts.
type PaymentLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	Gateway   string    `gorm:"not null"       json:"gateway"`
	Event     string    `gorm:"not null"       json:"event"`
	Payload   string    `gorm:"type:text"      json:"-"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null"                 json:"role"`
}
