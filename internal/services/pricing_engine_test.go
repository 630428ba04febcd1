package services

import (
	"testing"

	domain "github.com/shopfront/api/internal/domain"
)

func TestPricingEngineComputeFreeShipping(t *testing.T) {
	engine := NewPricingEngine()

	totals := engine.Compute([]PriceLine{{UnitPrice: 3000, Quantity: 2}}, "")

	want := domain.OrderTotals{Items: 6000, Tax: 480, Shipping: 0, Discount: 0, Total: 6480}
	if totals != want {
		t.Fatalf("unexpected totals: got %+v want %+v", totals, want)
	}
}

func TestPricingEngineComputeFlatShippingAtThreshold(t *testing.T) {
	engine := NewPricingEngine()

	// Free shipping only kicks in above the threshold, not at it.
	totals := engine.Compute([]PriceLine{{UnitPrice: 5000, Quantity: 1}}, "")

	if totals.Shipping != 999 {
		t.Fatalf("expected flat shipping at threshold, got %d", totals.Shipping)
	}
	if totals.Total != 5000+400+999 {
		t.Fatalf("unexpected total: %d", totals.Total)
	}
}

func TestPricingEngineComputeFreeShipCoupon(t *testing.T) {
	engine := NewPricingEngine()

	totals := engine.Compute([]PriceLine{{UnitPrice: 1000, Quantity: 1}}, "FREESHIP")

	want := domain.OrderTotals{Items: 1000, Tax: 80, Shipping: 999, Discount: 999, Total: 1080}
	if totals != want {
		t.Fatalf("unexpected totals: got %+v want %+v", totals, want)
	}
}

func TestPricingEngineComputeSave10Coupon(t *testing.T) {
	engine := NewPricingEngine()

	totals := engine.Compute([]PriceLine{{UnitPrice: 2500, Quantity: 4}}, "save10")

	if totals.Items != 10000 {
		t.Fatalf("unexpected items price: %d", totals.Items)
	}
	if totals.Discount != 1000 {
		t.Fatalf("expected 10%% discount, got %d", totals.Discount)
	}
	if totals.Total != totals.Items+totals.Tax+totals.Shipping-totals.Discount {
		t.Fatalf("total does not reconcile: %+v", totals)
	}
}

func TestPricingEngineComputeUnknownCoupon(t *testing.T) {
	engine := NewPricingEngine()

	totals := engine.Compute([]PriceLine{{UnitPrice: 1500, Quantity: 1}}, "BOGUS50")

	if totals.Discount != 0 {
		t.Fatalf("unknown coupon should not discount, got %d", totals.Discount)
	}
}

func TestPricingEngineComputeFreeShipWithFreeShipping(t *testing.T) {
	engine := NewPricingEngine()

	totals := engine.Compute([]PriceLine{{UnitPrice: 6000, Quantity: 1}}, "FREESHIP")

	if totals.Shipping != 0 || totals.Discount != 0 {
		t.Fatalf("FREESHIP over the free threshold should be a no-op, got %+v", totals)
	}
}

func TestPricingEngineComputeTaxRounding(t *testing.T) {
	engine := NewPricingEngine()

	// 8% of 106 is 8.48, which rounds half-up to 8.
	totals := engine.Compute([]PriceLine{{UnitPrice: 106, Quantity: 1}}, "")
	if totals.Tax != 8 {
		t.Fatalf("unexpected tax: %d", totals.Tax)
	}

	// 8% of 107 is 8.56, which rounds half-up to 9.
	totals = engine.Compute([]PriceLine{{UnitPrice: 107, Quantity: 1}}, "")
	if totals.Tax != 9 {
		t.Fatalf("unexpected tax: %d", totals.Tax)
	}
}
