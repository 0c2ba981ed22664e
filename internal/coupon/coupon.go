package coupon

import (
	"fmt"
	"math"
	"strings"
)

const (
	kindPercent = "percent"
	kindFlat    = "flat"

	// A coupon never discounts more than half the subtotal.
	maxDiscountRatio = 0.5
)

type Rule struct {
	Code        string
	Kind        string
	Value       float64
	MinPurchase float64
}

// Fixed rule set; codes are matched case-insensitively.
var rules = map[string]Rule{
	"WELCOME10": {Code: "WELCOME10", Kind: kindPercent, Value: 10, MinPurchase: 100},
	"SHIP15":    {Code: "SHIP15", Kind: kindFlat, Value: 15, MinPurchase: 150},
	"LUMOS20":   {Code: "LUMOS20", Kind: kindPercent, Value: 20, MinPurchase: 200},
}

// InvalidError covers both unknown codes and subtotals below the
// coupon's minimum purchase.
type InvalidError struct {
	Code   string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("coupon %s: %s", e.Code, e.Reason)
}

// Apply resolves a coupon code against the subtotal and returns the
// discount amount, capped at half the subtotal.
func Apply(code string, subtotal float64) (float64, error) {
	rule, ok := rules[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return 0, &InvalidError{Code: code, Reason: "unknown code"}
	}
	if subtotal < rule.MinPurchase {
		return 0, &InvalidError{
			Code:   rule.Code,
			Reason: fmt.Sprintf("minimum purchase is %.2f", rule.MinPurchase),
		}
	}

	var discount float64
	switch rule.Kind {
	case kindPercent:
		discount = subtotal * rule.Value / 100
	case kindFlat:
		discount = rule.Value
	}

	return round2(math.Min(discount, subtotal*maxDiscountRatio)), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
