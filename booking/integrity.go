/*
integrity.go - Ledger integrity sweep

PURPOSE:
  Re-derives what every booking should look like and compares it with what
  is stored. Run on a cron schedule by api.IntegrityScheduler, or on demand.

CHECKS:
  1. Pricing drift: re-runs the pricing path and Policy.Reprice. Drifted
     figures are rewritten; a booking cancelled by the rewrite releases
     its units.
  2. Double assignment: a unit held by two overlapping active line items.
     Reported only, a human decides which booking keeps the unit.
  3. Incomplete allocation: an active line item whose unit set does not
     have the size its target and quantity require. Reported only.

SEE ALSO:
  - service.go: reprice, releaseUnits
  - api/scheduler.go: Scheduled runs and run records
*/
package booking

import (
	"context"
	"fmt"

	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/payment"
	"github.com/warp/rental-engine/pricing"
)

// IntegrityReport summarizes one audit pass over the ledger.
type IntegrityReport struct {
	BookingsChecked int
	DriftFixed      int
	Drift           []PricingDrift
	Conflicts       []UnitConflict
	Incomplete      []IncompleteLineItem
}

// PricingDrift is a booking whose persisted figures did not match a fresh
// run of the pricing path.
type PricingDrift struct {
	BookingID inventory.BookingID
	Persisted payment.Financials
	Computed  payment.Financials
}

// UnitConflict is one unit held by two overlapping active line items.
type UnitConflict struct {
	UnitID   inventory.UnitID
	First    inventory.LineItemID
	Second   inventory.LineItemID
	Bookings [2]inventory.BookingID
}

// IncompleteLineItem is an active line item whose unit set does not have
// the size its target and quantity require.
type IncompleteLineItem struct {
	LineItemID inventory.LineItemID
	BookingID  inventory.BookingID
	Expected   int
	Assigned   int
}

type holding struct {
	lineItem inventory.LineItemID
	booking  inventory.BookingID
	r        inventory.DateRange
}

// AuditIntegrity recomputes every booking's figures, rewriting those that
// drifted, and reports double-assigned units and incomplete allocations.
// Conflicts are reported only.
func (s *Service) AuditIntegrity(ctx context.Context) (*IntegrityReport, error) {
	bookings, err := s.store.ListBookings(ctx, inventory.BookingFilter{})
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	report := &IntegrityReport{}
	held := make(map[inventory.UnitID][]holding)

	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.BookingsChecked++

		drift, err := s.fixDrift(ctx, b.ID)
		if err != nil {
			return report, fmt.Errorf("booking %d: %w", b.ID, err)
		}
		if drift != nil {
			report.Drift = append(report.Drift, *drift)
			report.DriftFixed++
			s.log.WarnContext(ctx, "pricing drift fixed",
				"booking_id", b.ID,
				"persisted_total", drift.Persisted.GrandTotal,
				"computed_total", drift.Computed.GrandTotal)
		}

		if !b.Status.IsActive() {
			continue
		}
		items, err := s.store.ListLineItems(ctx, b.ID)
		if err != nil {
			return report, fmt.Errorf("booking %d: %w", b.ID, err)
		}
		for _, li := range items {
			expected, err := inventory.ExpectedUnits(ctx, s.store, li.Target, li.Quantity)
			if err == nil && expected != len(li.UnitIDs) {
				report.Incomplete = append(report.Incomplete, IncompleteLineItem{
					LineItemID: li.ID,
					BookingID:  b.ID,
					Expected:   expected,
					Assigned:   len(li.UnitIDs),
				})
			}
			for _, unitID := range li.UnitIDs {
				held[unitID] = append(held[unitID], holding{lineItem: li.ID, booking: b.ID, r: b.Range})
			}
		}
	}

	for unitID, hs := range held {
		for i := 0; i < len(hs); i++ {
			for j := i + 1; j < len(hs); j++ {
				if hs[i].lineItem == hs[j].lineItem || !hs[i].r.Overlaps(hs[j].r) {
					continue
				}
				report.Conflicts = append(report.Conflicts, UnitConflict{
					UnitID:   unitID,
					First:    hs[i].lineItem,
					Second:   hs[j].lineItem,
					Bookings: [2]inventory.BookingID{hs[i].booking, hs[j].booking},
				})
				s.log.ErrorContext(ctx, "unit double-booked",
					"unit_id", unitID,
					"line_item_a", hs[i].lineItem,
					"line_item_b", hs[j].lineItem)
			}
		}
	}

	s.log.InfoContext(ctx, "integrity audit complete",
		"bookings", report.BookingsChecked,
		"drift_fixed", report.DriftFixed,
		"conflicts", len(report.Conflicts),
		"incomplete", len(report.Incomplete))
	return report, nil
}

// fixDrift re-prices one booking and persists the result when any stored
// figure differs. Returns nil when the booking was already consistent.
func (s *Service) fixDrift(ctx context.Context, id inventory.BookingID) (*PricingDrift, error) {
	var drift *PricingDrift
	err := s.store.WithTx(ctx, func(tx inventory.Store) error {
		drift = nil
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		items, err := tx.ListLineItems(ctx, id)
		if err != nil {
			return err
		}
		breakdown, err := pricing.ForBooking(ctx, tx, tx, *b, items)
		if err != nil {
			return err
		}

		persisted := payment.FromBooking(*b)
		computed := s.policy.Reprice(persisted, breakdown.GrandTotal)
		if computed == persisted {
			return nil
		}
		computed.ApplyTo(b)
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if persisted.Status.IsActive() && !computed.Status.IsActive() {
			if err := releaseUnits(ctx, tx, items); err != nil {
				return err
			}
		}
		drift = &PricingDrift{BookingID: id, Persisted: persisted, Computed: computed}
		return nil
	})
	return drift, err
}
