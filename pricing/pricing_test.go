package pricing_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/inventory/store"
	"github.com/warp/rental-engine/pricing"
)

func percentage(pct int64) *inventory.Promo {
	return &inventory.Promo{Code: "PCT", Type: inventory.PromoPercentage, Rule: inventory.PromoRule{Percent: decimal.NewFromInt(pct)}, Active: true}
}

func nominal(amount int64) *inventory.Promo {
	return &inventory.Promo{Code: "NOM", Type: inventory.PromoNominal, Rule: inventory.PromoRule{Amount: amount}, Active: true}
}

func dayBased(group, pay int) *inventory.Promo {
	return &inventory.Promo{Code: "DAY", Type: inventory.PromoDayBased, Rule: inventory.PromoRule{GroupSize: group, PayDays: pay}, Active: true}
}

func price(t *testing.T, lines []pricing.Line, duration int, promo *inventory.Promo, addOns ...inventory.AddOn) pricing.Breakdown {
	t.Helper()
	got, err := pricing.ComputeGrandTotal(lines, duration, promo, addOns...)
	require.NoError(t, err)
	return got
}

// =============================================================================
// PROMO RULE TESTS
// =============================================================================

func TestComputeGrandTotal_DayBased_ThreeForTwo(t *testing.T) {
	// GIVEN: 7 days at 100,000/day, pay 2 of every 3 days
	// THEN: daysToPay = 2x2+1 = 5, discount 200,000, grand total 500,000
	lines := []pricing.Line{{UnitPrice: 100000, Quantity: 1}}

	got := price(t, lines, 7, dayBased(3, 2))

	assert.Equal(t, pricing.Breakdown{
		Subtotal:          100000,
		Duration:          7,
		TotalWithDuration: 700000,
		Discount:          200000,
		GrandTotal:        500000,
	}, got)
}

func TestComputeGrandTotal_Percentage(t *testing.T) {
	// GIVEN: 50,000/day for 4 days with 20% off
	// THEN: 200,000 - 40,000 = 160,000
	lines := []pricing.Line{{UnitPrice: 25000, Quantity: 2}}

	got := price(t, lines, 4, percentage(20))

	assert.Equal(t, int64(200000), got.TotalWithDuration)
	assert.Equal(t, int64(40000), got.Discount)
	assert.Equal(t, int64(160000), got.GrandTotal)
}

func TestComputeGrandTotal_PercentageFloors(t *testing.T) {
	lines := []pricing.Line{{UnitPrice: 333, Quantity: 1}}
	promo := &inventory.Promo{Type: inventory.PromoPercentage, Rule: inventory.PromoRule{Percent: decimal.RequireFromString("12.5")}}

	got := price(t, lines, 1, promo)

	// 333 x 12.5 / 100 = 41.625
	assert.Equal(t, int64(41), got.Discount)
	assert.Equal(t, int64(292), got.GrandTotal)
}

func TestComputeGrandTotal_DiscountClamped(t *testing.T) {
	lines := []pricing.Line{{UnitPrice: 10000, Quantity: 1}}

	tests := []struct {
		name  string
		promo *inventory.Promo
		want  int64
	}{
		{"nominal above total", nominal(1_000_000), 0},
		{"nominal below total", nominal(5000), 25000},
		{"100 percent", percentage(100), 0},
		{"pay more days than the group", dayBased(2, 3), 30000},
		{"pay zero days", dayBased(3, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := price(t, lines, 3, tt.promo)
			assert.Equal(t, tt.want, got.GrandTotal)
			assert.GreaterOrEqual(t, got.Discount, int64(0))
			assert.LessOrEqual(t, got.Discount, got.TotalWithDuration)
		})
	}
}

func TestComputeGrandTotal_DayBased_ShorterThanGroup(t *testing.T) {
	lines := []pricing.Line{{UnitPrice: 100000, Quantity: 1}}

	got := price(t, lines, 2, dayBased(3, 2))

	assert.Equal(t, int64(0), got.Discount)
	assert.Equal(t, int64(200000), got.GrandTotal)
}

func TestComputeGrandTotal_AddOnsAfterDiscount(t *testing.T) {
	lines := []pricing.Line{{UnitPrice: 50000, Quantity: 1}}
	addOns := []inventory.AddOn{{Name: "Delivery", Amount: 15000}, {Name: "Insurance", Amount: 5000}}

	got := price(t, lines, 2, nominal(1_000_000), addOns...)

	assert.Equal(t, int64(100000), got.Discount)
	assert.Equal(t, int64(20000), got.AddOnTotal)
	assert.Equal(t, int64(20000), got.GrandTotal)
}

func TestComputeGrandTotal_PureAndOrderIndependent(t *testing.T) {
	a := []pricing.Line{{UnitPrice: 60000, Quantity: 2}, {UnitPrice: 40000, Quantity: 1}, {UnitPrice: 150000, Quantity: 1}}
	b := []pricing.Line{a[2], a[0], a[1]}
	promo := dayBased(3, 2)

	first := price(t, a, 5, promo)
	second := price(t, a, 5, promo)
	reordered := price(t, b, 5, promo)

	assert.Equal(t, first, second)
	assert.Equal(t, first, reordered)
	assert.Equal(t, int64(310000), first.Subtotal)
}

func TestComputeGrandTotal_NoPromo(t *testing.T) {
	got := price(t, []pricing.Line{{UnitPrice: 1000, Quantity: 3}}, 0, nil)

	assert.Equal(t, 1, got.Duration)
	assert.Equal(t, int64(3000), got.GrandTotal)
}

func TestComputeGrandTotal_OverflowRejected(t *testing.T) {
	// GIVEN: A quantity large enough to wrap int64 once multiplied by price and days
	// THEN: The total is rejected instead of silently wrapping
	tests := []struct {
		name     string
		lines    []pricing.Line
		duration int
		addOns   []inventory.AddOn
	}{
		{"line times quantity", []pricing.Line{{UnitPrice: 5_000_000, Quantity: 1 << 62}}, 1, nil},
		{"subtotal times duration", []pricing.Line{{UnitPrice: 5_000_000, Quantity: 1 << 40}}, 2, nil},
		{"sum of lines", []pricing.Line{{UnitPrice: math.MaxInt64, Quantity: 1}, {UnitPrice: 1, Quantity: 1}}, 1, nil},
		{"add-ons push past the limit", []pricing.Line{{UnitPrice: math.MaxInt64, Quantity: 1}}, 1, []inventory.AddOn{{Name: "Delivery", Amount: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pricing.ComputeGrandTotal(tt.lines, tt.duration, percentage(20), tt.addOns...)
			assert.ErrorIs(t, err, inventory.ErrAmountOverflow)
		})
	}
}

func TestComputeGrandTotal_LargeButRepresentable(t *testing.T) {
	// GIVEN: A total exactly at the int64 limit
	// THEN: It is priced exactly
	got := price(t, []pricing.Line{{UnitPrice: math.MaxInt64, Quantity: 1}}, 1, nominal(math.MaxInt64))

	assert.Equal(t, int64(math.MaxInt64), got.TotalWithDuration)
	assert.Equal(t, int64(math.MaxInt64), got.Discount)
	assert.Equal(t, int64(0), got.GrandTotal)
}

func TestDiscount_MalformedRulesStayInRange(t *testing.T) {
	huge := &inventory.Promo{Type: inventory.PromoPercentage, Rule: inventory.PromoRule{Percent: decimal.RequireFromString("1e30")}}
	negativePay := dayBased(3, math.MinInt)

	assert.Equal(t, int64(30000), pricing.Discount(huge, 10000, 3))
	assert.Equal(t, int64(0), pricing.Discount(negativePay, 10000, 7))
}

// =============================================================================
// CATALOG RESOLUTION TESTS
// =============================================================================

func TestForBooking_UsesCatalogPricesAndPromo(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	camera := &inventory.Product{Name: "Camera", UnitPrice: 60000}
	require.NoError(t, m.SaveProduct(ctx, camera))
	kit := &inventory.Bundle{Name: "Kit", Price: 150000, Components: []inventory.BundleComponent{{ProductID: camera.ID, Quantity: 2}}}
	require.NoError(t, m.SaveBundle(ctx, kit))
	promo := percentage(10)
	require.NoError(t, m.SavePromo(ctx, promo))

	b := inventory.Booking{Range: inventory.Days(2026, time.May, 1, 2), PromoID: &promo.ID}
	items := []inventory.LineItem{
		{Target: inventory.ProductTarget(camera.ID), Quantity: 1},
		{Target: inventory.BundleTarget(kit.ID), Quantity: 1},
	}

	got, err := pricing.ForBooking(ctx, m, m, b, items)

	require.NoError(t, err)
	assert.Equal(t, int64(210000), got.Subtotal)
	assert.Equal(t, int64(420000), got.TotalWithDuration)
	assert.Equal(t, int64(42000), got.Discount)
	assert.Equal(t, int64(378000), got.GrandTotal)
}

func TestUnitPrice_UnknownTarget(t *testing.T) {
	_, err := pricing.UnitPrice(context.Background(), store.NewMemory(), inventory.ProductTarget(5))

	assert.ErrorIs(t, err, inventory.ErrTargetNotFound)
}
