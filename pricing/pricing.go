/*
Package pricing computes booking totals.

PURPOSE:
  The single pricing path. Booking creation, line item edits, status
  changes, the integrity sweep and the HTTP quote endpoint all call
  ComputeGrandTotal with the same inputs, so the grand total is a pure
  function of (line prices x quantities, duration, promo, add-ons).

FORMULA:
  subtotal          = sum(unitPrice x quantity)         per day
  totalWithDuration = subtotal x duration
  discount          = promo rule, clamped to [0, totalWithDuration]
  grandTotal        = totalWithDuration - discount + sum(addOns)

PROMO RULES:
  percentage: floor(total x percent / 100)
  nominal:    min(amount, total)
  day_based:  every group_size days the renter pays pay_days of them,
              remainder days are paid in full. pay_days >= group_size
              gives no discount.
              discount = subtotal x (duration - daysToPay)

EXAMPLE (day_based 3-for-2, 7 days at 100,000/day):
  fullGroups = 2, remainder = 1, daysToPay = 2x2+1 = 5
  discount   = 100,000 x (7-5) = 200,000
  grandTotal = 700,000 - 200,000 = 500,000

SEE ALSO:
  - payment/payment.go: Derives down payment, remaining and fee from grandTotal
  - booking/service.go: Call site for every persisted booking
*/
package pricing

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/inventory"
)

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

// Line is one priced row: per-day unit price and quantity.
type Line struct {
	UnitPrice int64
	Quantity  int
}

// Breakdown is the result of ComputeGrandTotal.
type Breakdown struct {
	Subtotal          int64 `json:"subtotal"`
	Duration          int   `json:"duration"`
	TotalWithDuration int64 `json:"total_with_duration"`
	Discount          int64 `json:"discount"`
	AddOnTotal        int64 `json:"add_on_total"`
	GrandTotal        int64 `json:"grand_total"`
}

// ComputeGrandTotal prices lines over duration days with an optional promo.
// Add-ons are flat and are added after the discount. Totals that do not fit
// in an int64 yield ErrAmountOverflow.
func ComputeGrandTotal(lines []Line, duration int, promo *inventory.Promo, addOns ...inventory.AddOn) (Breakdown, error) {
	if duration < 1 {
		duration = 1
	}

	perDay := decimal.Zero
	for _, l := range lines {
		perDay = perDay.Add(decimal.NewFromInt(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	withDuration := perDay.Mul(decimal.NewFromInt(int64(duration)))

	addOnSum := decimal.Zero
	for _, a := range addOns {
		if a.Amount > 0 {
			addOnSum = addOnSum.Add(decimal.NewFromInt(a.Amount))
		}
	}

	// The discount is clamped to the total, so total + add-ons bounds every figure.
	if withDuration.Add(addOnSum).GreaterThan(maxAmount) {
		return Breakdown{}, fmt.Errorf("pricing %d lines over %d days: %w", len(lines), duration, inventory.ErrAmountOverflow)
	}

	subtotal := perDay.IntPart()
	total := withDuration.IntPart()
	addOnTotal := addOnSum.IntPart()
	discount := clamp(Discount(promo, subtotal, duration), 0, total)

	return Breakdown{
		Subtotal:          subtotal,
		Duration:          duration,
		TotalWithDuration: total,
		Discount:          discount,
		AddOnTotal:        addOnTotal,
		GrandTotal:        total - discount + addOnTotal,
	}, nil
}

// Discount returns the raw, unclamped discount of promo for a per-day
// subtotal rented over duration days.
func Discount(promo *inventory.Promo, subtotal int64, duration int) int64 {
	if promo == nil {
		return 0
	}
	total := subtotal * int64(duration)

	switch promo.Type {
	case inventory.PromoPercentage:
		d := decimal.NewFromInt(total).Mul(promo.Rule.Percent).Div(hundred).Floor()
		if d.GreaterThan(decimal.NewFromInt(total)) {
			return total
		}
		return d.IntPart()

	case inventory.PromoNominal:
		if promo.Rule.Amount < total {
			return promo.Rule.Amount
		}
		return total

	case inventory.PromoDayBased:
		group := promo.Rule.GroupSize
		if group < 1 || promo.Rule.PayDays < 0 || promo.Rule.PayDays >= group {
			return 0
		}
		fullGroups := duration / group
		remainder := duration % group
		daysToPay := fullGroups*promo.Rule.PayDays + remainder
		return subtotal * int64(duration-daysToPay)
	}
	return 0
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// LINE RESOLUTION
// =============================================================================

// UnitPrice is the per-day price of one target: the product price or the
// bundle's flat price.
func UnitPrice(ctx context.Context, catalog inventory.Catalog, target inventory.Target) (int64, error) {
	if id, ok := target.Product(); ok {
		p, err := catalog.GetProduct(ctx, id)
		if err != nil {
			return 0, err
		}
		return p.UnitPrice, nil
	}
	if id, ok := target.Bundle(); ok {
		b, err := catalog.GetBundle(ctx, id)
		if err != nil {
			return 0, err
		}
		return b.Price, nil
	}
	return 0, &inventory.TargetNotFoundError{Target: target}
}

// Lines resolves line items into priced lines using current catalog prices.
func Lines(ctx context.Context, catalog inventory.Catalog, items []inventory.LineItem) ([]Line, error) {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		price, err := UnitPrice(ctx, catalog, item.Target)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Line{UnitPrice: price, Quantity: item.Quantity})
	}
	return lines, nil
}

// ForBooking prices a booking's line items with its promo and add-ons.
func ForBooking(ctx context.Context, catalog inventory.Catalog, promos inventory.PromoStore, b inventory.Booking, items []inventory.LineItem) (Breakdown, error) {
	lines, err := Lines(ctx, catalog, items)
	if err != nil {
		return Breakdown{}, err
	}

	var promo *inventory.Promo
	if b.PromoID != nil {
		promo, err = promos.GetPromo(ctx, *b.PromoID)
		if err != nil {
			return Breakdown{}, err
		}
	}
	return ComputeGrandTotal(lines, b.Duration(), promo, b.AddOns...)
}
