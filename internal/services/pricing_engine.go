package services

import (
	"strings"

	domain "github.com/shopfront/api/internal/domain"
)

// Pricing policy constants. All amounts are minor units (cents).
const (
	taxRatePercent        = 8
	freeShippingThreshold = 5000
	flatShippingPrice     = 999
	save10Percent         = 10
)

// PriceLine is one unit-price/quantity pair fed to the pricing engine.
type PriceLine struct {
	UnitPrice int64
	Quantity  int
}

// CouponPolicy computes the discount for a coupon given the items subtotal
// and the shipping charge already determined for the cart.
type CouponPolicy func(itemsPrice, shippingPrice int64) int64

// PricingEngine computes order totals from cart lines and an optional
// coupon code. It is a pure calculator; it never reads the catalog.
type PricingEngine struct {
	coupons map[string]CouponPolicy
}

// NewPricingEngine constructs the engine with the built-in coupon table.
func NewPricingEngine() *PricingEngine {
	return &PricingEngine{
		coupons: map[string]CouponPolicy{
			"SAVE10": func(itemsPrice, _ int64) int64 {
				return roundedPercent(itemsPrice, save10Percent)
			},
			"FREESHIP": func(_, shippingPrice int64) int64 {
				return shippingPrice
			},
		},
	}
}

// Compute derives the full pricing breakdown. Unknown coupon codes yield a
// zero discount without error. The result always satisfies
// Total == Items + Tax + Shipping - Discount, floored at zero.
func (e *PricingEngine) Compute(lines []PriceLine, couponCode string) domain.OrderTotals {
	var itemsPrice int64
	for _, line := range lines {
		itemsPrice += line.UnitPrice * int64(line.Quantity)
	}

	taxPrice := roundedPercent(itemsPrice, taxRatePercent)

	var shippingPrice int64
	if itemsPrice <= freeShippingThreshold {
		shippingPrice = flatShippingPrice
	}

	var discountPrice int64
	if code := strings.ToUpper(strings.TrimSpace(couponCode)); code != "" {
		if policy, ok := e.coupons[code]; ok {
			discountPrice = policy(itemsPrice, shippingPrice)
		}
	}
	// A discount can never exceed what the order would otherwise cost.
	if maxDiscount := itemsPrice + taxPrice + shippingPrice; discountPrice > maxDiscount {
		discountPrice = maxDiscount
	}

	return domain.OrderTotals{
		Items:    itemsPrice,
		Tax:      taxPrice,
		Shipping: shippingPrice,
		Discount: discountPrice,
		Total:    itemsPrice + taxPrice + shippingPrice - discountPrice,
	}
}

// roundedPercent applies a percentage with half-up rounding in minor units.
func roundedPercent(amount int64, percent int64) int64 {
	return (amount*percent + 50) / 100
}
