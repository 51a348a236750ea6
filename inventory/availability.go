/*
availability.go - Free-unit computation for products and bundles

PURPOSE:
  Answers "which units of this product (or of this bundle's components)
  are free for this date range?" without mutating anything.

ALGORITHM:
  1. Resolve the target into (product, required-per-target) components.
     A product is a single component with required=1.
  2. Load active assignments overlapping the range for those products.
     Assignments held by excluded line items are ignored.
  3. Per component: enabled units minus blocked units, ascending by id.
  4. Count = min over components of floor(free / required).

EXAMPLE:
  Bundle "Interview Kit" = 2x Camera + 1x Tripod
  Cameras free: 5, Tripods free: 2
  Count = min(5/2, 2/1) = min(2, 2) = 2

NOT FOUND:
  An unknown target is zero availability, not an error. The allocator is
  the one that rejects it.

SEE ALSO:
  - allocator.go: Picks units from an Availability
  - store.go: Catalog and AssignmentReader
*/
package inventory

import (
	"context"
	"errors"
	"sort"
)

// Availability is the result of AvailableUnits.
type Availability struct {
	Target Target

	// Count is the number of whole targets (products or bundles) that can be rented.
	Count int

	// UnitIDs is the ascending union of free units across components.
	UnitIDs []UnitID

	// Components lists per-product detail in bundle order. A product target
	// has exactly one component with Required=1.
	Components []ComponentAvailability
}

// ComponentAvailability is the free-unit view of one component product.
type ComponentAvailability struct {
	ProductID ProductID
	Required  int
	UnitIDs   []UnitID
}

// Free is the number of free units of this component.
func (c ComponentAvailability) Free() int { return len(c.UnitIDs) }

// Calculator computes availability from the catalog and the ledger.
type Calculator struct {
	catalog     Catalog
	assignments AssignmentReader
}

func NewCalculator(catalog Catalog, assignments AssignmentReader) *Calculator {
	return &Calculator{catalog: catalog, assignments: assignments}
}

// AvailableUnits returns free units for target over r, ignoring assignments
// held by the excluded line items.
func (c *Calculator) AvailableUnits(ctx context.Context, target Target, r DateRange, exclude []LineItemID) (Availability, error) {
	if err := r.Validate(); err != nil {
		return Availability{}, err
	}

	components, err := resolveComponents(ctx, c.catalog, target)
	if errors.Is(err, ErrTargetNotFound) {
		return Availability{Target: target}, nil
	}
	if err != nil {
		return Availability{}, err
	}
	return c.compute(ctx, target, components, r, exclude)
}

func (c *Calculator) compute(ctx context.Context, target Target, components []BundleComponent, r DateRange, exclude []LineItemID) (Availability, error) {
	result := Availability{Target: target}
	if len(components) == 0 {
		return result, nil
	}

	productIDs := make([]ProductID, len(components))
	for i, comp := range components {
		productIDs[i] = comp.ProductID
	}

	blocked, err := c.blockedUnits(ctx, productIDs, r, exclude)
	if err != nil {
		return Availability{}, err
	}

	count := -1
	for _, comp := range components {
		units, err := c.catalog.ListUnits(ctx, comp.ProductID)
		if err != nil {
			return Availability{}, err
		}

		free := make([]UnitID, 0, len(units))
		for _, u := range units {
			if u.Available && !blocked[u.ID] {
				free = append(free, u.ID)
			}
		}
		sortUnitIDs(free)

		result.Components = append(result.Components, ComponentAvailability{
			ProductID: comp.ProductID,
			Required:  comp.Quantity,
			UnitIDs:   free,
		})
		result.UnitIDs = append(result.UnitIDs, free...)

		n := 0
		if comp.Quantity > 0 {
			n = len(free) / comp.Quantity
		}
		if count < 0 || n < count {
			count = n
		}
	}

	sortUnitIDs(result.UnitIDs)
	result.Count = count
	return result, nil
}

func (c *Calculator) blockedUnits(ctx context.Context, productIDs []ProductID, r DateRange, exclude []LineItemID) (map[UnitID]bool, error) {
	assignments, err := c.assignments.ActiveAssignments(ctx, productIDs, r)
	if err != nil {
		return nil, err
	}

	skip := make(map[LineItemID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	blocked := make(map[UnitID]bool, len(assignments))
	for _, a := range assignments {
		if skip[a.LineItemID] || !a.Status.IsActive() || !a.Range.Overlaps(r) {
			continue
		}
		blocked[a.UnitID] = true
	}
	return blocked, nil
}

// resolveComponents turns a target into its component requirements.
// Returns *TargetNotFoundError when the product or bundle does not exist.
func resolveComponents(ctx context.Context, catalog Catalog, target Target) ([]BundleComponent, error) {
	if id, ok := target.Product(); ok {
		if _, err := catalog.GetProduct(ctx, id); err != nil {
			return nil, err
		}
		return []BundleComponent{{ProductID: id, Quantity: 1}}, nil
	}
	if id, ok := target.Bundle(); ok {
		bundle, err := catalog.GetBundle(ctx, id)
		if err != nil {
			return nil, err
		}
		return bundle.Requirements(), nil
	}
	return nil, &TargetNotFoundError{Target: target}
}

func sortUnitIDs(ids []UnitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
