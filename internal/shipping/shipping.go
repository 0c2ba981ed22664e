package shipping

import (
	"errors"
	"fmt"
	"math"

	"github.com/lumosfitness/storefront/internal/models"
)

// Quote prices are a fixed table: base price covers the first kilogram,
// every started kilogram above that adds the per-kg rate. Garments
// without a declared weight count 200g per unit.
const (
	unitWeightKg = 0.2

	standardBase  = 15.00
	standardPerKg = 3.00
	expressBase   = 25.90
	expressPerKg  = 4.50

	freeShippingMin = 250.00
)

var ErrUnknownService = errors.New("shipping: unknown service")

// MismatchError reports that the client-supplied price no longer matches
// the quoted one, carrying the fresh quote so the shopper can retry.
type MismatchError struct {
	Service string
	Quoted  float64
	Given   float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("shipping: price for %s is %.2f, got %.2f", e.Service, e.Quoted, e.Given)
}

type Option struct {
	Service string  `json:"service"`
	Carrier string  `json:"carrier"`
	Price   float64 `json:"price"`
	ETA     string  `json:"eta"`
}

type Selection struct {
	Service string  `json:"service"`
	Price   float64 `json:"price"`
}

func totalWeight(items []models.CartItem) float64 {
	var w float64
	for _, it := range items {
		w += float64(it.Quantity) * unitWeightKg
	}
	return w
}

func extraKg(weight float64) float64 {
	kg := math.Ceil(weight)
	if kg <= 1 {
		return 0
	}
	return kg - 1
}

// Quote returns the available delivery options for a cart, cheapest
// first. Orders at or above the free-shipping threshold get a zero-cost
// promotional option on top of the paid ones.
func Quote(items []models.CartItem, subtotal float64) []Option {
	extra := extraKg(totalWeight(items))

	opts := []Option{
		{
			Service: "standard",
			Carrier: "Correios PAC",
			Price:   round2(standardBase + extra*standardPerKg),
			ETA:     "5-8 business days",
		},
		{
			Service: "express",
			Carrier: "Correios SEDEX",
			Price:   round2(expressBase + extra*expressPerKg),
			ETA:     "1-3 business days",
		},
	}

	if subtotal >= freeShippingMin {
		opts = append([]Option{{
			Service: "free",
			Carrier: "Promotional",
			Price:   0,
			ETA:     "5-8 business days",
		}}, opts...)
	}

	return opts
}

// Validate cross-checks a client-supplied selection against a fresh
// quote. The price must match exactly; the client never sets the price,
// it echoes back what Quote told it.
func Validate(items []models.CartItem, subtotal float64, sel Selection) error {
	for _, opt := range Quote(items, subtotal) {
		if opt.Service != sel.Service {
			continue
		}
		if opt.Price != sel.Price {
			return &MismatchError{Service: sel.Service, Quoted: opt.Price, Given: sel.Price}
		}
		return nil
	}
	return ErrUnknownService
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
