/*
allocator.go - Deterministic unit selection for line items

PURPOSE:
  Turns an Availability into a concrete set of unit ids for one line item.
  The critical invariant: no unit is assigned to two active line items whose
  bookings overlap.

SELECTION:
  - Product: the first `quantity` free units by ascending id.
  - Bundle:  per component, the first `quantity x required` free units.
    The line item's set is the ascending union.
  Same inputs and same ledger state always yield the same set, so a form
  re-render never churns units.

ALL OR NOTHING:
  If any component is short, Allocate returns InsufficientInventoryError and
  assigns nothing. The bottleneck is the first short component in bundle
  order.

LOCKING:
  Allocate is pure over its inputs. Callers run it inside TxStore.WithTx
  together with the SaveLineItem that persists the result. If the store is
  a UnitLocker, unit rows of every involved product are locked first.

SEE ALSO:
  - availability.go: Free-unit computation
  - booking/service.go: Transaction boundary and single retry
*/
package inventory

import (
	"context"
	"errors"
	"math"
)

// Allocator selects units for line items.
type Allocator struct {
	catalog     Catalog
	assignments AssignmentReader
	calc        *Calculator
}

func NewAllocator(catalog Catalog, assignments AssignmentReader) *Allocator {
	return &Allocator{
		catalog:     catalog,
		assignments: assignments,
		calc:        NewCalculator(catalog, assignments),
	}
}

// NewStoreAllocator is a convenience for a Store or a transactional view of one.
func NewStoreAllocator(store Store) *Allocator {
	return NewAllocator(store, store)
}

// Calculator exposes the allocator's availability calculator.
func (a *Allocator) Calculator() *Calculator { return a.calc }

// Allocate picks units for quantity targets over r.
// exclude always contains the line item being edited, if any.
func (a *Allocator) Allocate(ctx context.Context, target Target, quantity int, r DateRange, exclude []LineItemID) ([]UnitID, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	components, err := resolveComponents(ctx, a.catalog, target)
	if err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			return nil, &TargetNotFoundError{Target: target}
		}
		return nil, err
	}
	if len(components) == 0 {
		return nil, &InsufficientInventoryError{Target: target, Requested: quantity, Shortfall: quantity}
	}

	if locker, ok := a.assignments.(UnitLocker); ok {
		ids := make([]ProductID, len(components))
		for i, c := range components {
			ids[i] = c.ProductID
		}
		if err := locker.LockUnits(ctx, ids); err != nil {
			return nil, err
		}
	}

	avail, err := a.calc.compute(ctx, target, components, r, exclude)
	if err != nil {
		return nil, err
	}
	return Select(avail, quantity)
}

// Select picks units from an availability snapshot.
func Select(avail Availability, quantity int) ([]UnitID, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	_, isBundle := avail.Target.Bundle()

	var picked []UnitID
	for _, comp := range avail.Components {
		need := unitsNeeded(quantity, comp.Required)
		if comp.Free() < need {
			insufficient := &InsufficientInventoryError{
				Target:    avail.Target,
				Requested: quantity,
				Available: avail.Count,
				Shortfall: need - comp.Free(),
			}
			if isBundle {
				bottleneck := comp.ProductID
				insufficient.Bottleneck = &bottleneck
				insufficient.ComponentRequired = need
				insufficient.ComponentAvailable = comp.Free()
			}
			return nil, insufficient
		}
		picked = append(picked, comp.UnitIDs[:need]...)
	}

	sortUnitIDs(picked)
	return picked, nil
}

// ExpectedUnits is the size of a fully allocated line item's unit set.
func ExpectedUnits(ctx context.Context, catalog Catalog, target Target, quantity int) (int, error) {
	components, err := resolveComponents(ctx, catalog, target)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range components {
		need := unitsNeeded(quantity, c.Quantity)
		if n > math.MaxInt-need {
			return math.MaxInt, nil
		}
		n += need
	}
	return n, nil
}

// unitsNeeded is quantity x required, saturating at math.MaxInt.
func unitsNeeded(quantity, required int) int {
	if required > 0 && quantity > math.MaxInt/required {
		return math.MaxInt
	}
	return quantity * required
}
