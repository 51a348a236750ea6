/*
catalog.go - Catalog entry validation

PURPOSE:
  Checks products, bundles and promos before any store persists them.
  Every store and the promo factory call these, so a malformed rule never
  reaches the pricing engine through one backend but not another.

RULES:
  Product: name required, unit price >= 0, known status
  Bundle:  name required, price >= 0, at least one component, quantities >= 1
  Promo:   code required; percentage in [0, 100], nominal amount >= 0,
           day_based group_size >= 1 and pay_days >= 0

SEE ALSO:
  - pricing/pricing.go: Clamps discounts even for unvalidated promos
  - factory/promo.go: JSON promo definitions
*/
package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// CATALOG VALIDATION - shared by every store and the promo factory
// =============================================================================

func ValidateProduct(p Product) error {
	if p.Name == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidCatalog)
	}
	if p.UnitPrice < 0 {
		return fmt.Errorf("%w: product %q has negative price %d", ErrInvalidCatalog, p.Name, p.UnitPrice)
	}
	switch p.Status {
	case ProductActive, ProductInactive:
	default:
		return fmt.Errorf("%w: unknown product status %q", ErrInvalidCatalog, p.Status)
	}
	return nil
}

func ValidateBundle(b Bundle) error {
	if b.Name == "" {
		return fmt.Errorf("%w: bundle name is required", ErrInvalidCatalog)
	}
	if b.Price < 0 {
		return fmt.Errorf("%w: bundle %q has negative price %d", ErrInvalidCatalog, b.Name, b.Price)
	}
	if len(b.Components) == 0 {
		return fmt.Errorf("%w: bundle %q has no components", ErrInvalidCatalog, b.Name)
	}
	for _, c := range b.Components {
		if c.Quantity < 1 {
			return fmt.Errorf("%w: bundle %q requires %d of product %d", ErrInvalidCatalog, b.Name, c.Quantity, c.ProductID)
		}
	}
	return nil
}

// ValidatePromo checks the rule payload against the promo type.
func ValidatePromo(p Promo) error {
	if p.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidPromo)
	}
	switch p.Type {
	case PromoPercentage:
		if p.Rule.Percent.IsNegative() || p.Rule.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: percent %s outside 0-100", ErrInvalidPromo, p.Rule.Percent)
		}
	case PromoNominal:
		if p.Rule.Amount < 0 {
			return fmt.Errorf("%w: negative amount %d", ErrInvalidPromo, p.Rule.Amount)
		}
	case PromoDayBased:
		if p.Rule.GroupSize < 1 {
			return fmt.Errorf("%w: group_size must be at least 1, got %d", ErrInvalidPromo, p.Rule.GroupSize)
		}
		if p.Rule.PayDays < 0 {
			return fmt.Errorf("%w: pay_days must not be negative, got %d", ErrInvalidPromo, p.Rule.PayDays)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPromo, p.Type)
	}
	return nil
}
