/*
Package factory provides JSON to Go promo conversion.

PURPOSE:
  Converts JSON promo definitions into inventory.Promo values. Marketing
  can define promos in JSON (admin UI, database, files) and the factory
  validates them and produces the Go struct the pricing engine reads.

JSON SCHEMA:
  {
    "code": "WEEKLY-3-FOR-2",
    "name": "Rent 3 days, pay 2",
    "type": "day_based",
    "group_size": 3,
    "pay_days": 2
  }

  {"code": "SPRING20", "type": "percentage", "percent": 20}
  {"code": "WELCOME50K", "type": "nominal", "amount": 50000}

DEFAULTS:
  - "active" defaults to true
  - "name" defaults to the code

USAGE:
  f := factory.NewPromoFactory()
  promo, err := f.ParsePromo(factory.PayForDaysJSON("WEEKLY", 3, 2))

SEE ALSO:
  - inventory/catalog.go: ValidatePromo
  - pricing/pricing.go: How each type is applied
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/inventory"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PromoJSON is the JSON representation of a promo.
type PromoJSON struct {
	ID        int64            `json:"id,omitempty"`
	Code      string           `json:"code"`
	Name      string           `json:"name,omitempty"`
	Type      string           `json:"type"`
	Percent   *decimal.Decimal `json:"percent,omitempty"`
	Amount    *int64           `json:"amount,omitempty"`
	GroupSize *int             `json:"group_size,omitempty"`
	PayDays   *int             `json:"pay_days,omitempty"`
	Active    *bool            `json:"active,omitempty"`
}

// =============================================================================
// PROMO FACTORY
// =============================================================================

// PromoFactory converts JSON promos to Go structs.
type PromoFactory struct{}

// NewPromoFactory creates a new promo factory.
func NewPromoFactory() *PromoFactory {
	return &PromoFactory{}
}

// ParsePromo parses and validates a JSON promo definition.
func (f *PromoFactory) ParsePromo(jsonStr string) (*inventory.Promo, error) {
	var pj PromoJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", inventory.ErrInvalidPromo, err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts an already decoded PromoJSON.
func (f *PromoFactory) FromJSON(pj PromoJSON) (*inventory.Promo, error) {
	promo := &inventory.Promo{
		ID:     inventory.PromoID(pj.ID),
		Code:   pj.Code,
		Name:   pj.Name,
		Type:   inventory.PromoType(pj.Type),
		Active: true,
	}
	if promo.Name == "" {
		promo.Name = pj.Code
	}
	if pj.Active != nil {
		promo.Active = *pj.Active
	}

	switch promo.Type {
	case inventory.PromoPercentage:
		if pj.Percent == nil {
			return nil, fmt.Errorf("%w: percentage promo requires percent", inventory.ErrInvalidPromo)
		}
		promo.Rule.Percent = *pj.Percent
	case inventory.PromoNominal:
		if pj.Amount == nil {
			return nil, fmt.Errorf("%w: nominal promo requires amount", inventory.ErrInvalidPromo)
		}
		promo.Rule.Amount = *pj.Amount
	case inventory.PromoDayBased:
		if pj.GroupSize == nil || pj.PayDays == nil {
			return nil, fmt.Errorf("%w: day_based promo requires group_size and pay_days", inventory.ErrInvalidPromo)
		}
		promo.Rule.GroupSize = *pj.GroupSize
		promo.Rule.PayDays = *pj.PayDays
	}

	if err := inventory.ValidatePromo(*promo); err != nil {
		return nil, err
	}
	return promo, nil
}

// ToJSON renders a promo back into its JSON definition.
func (f *PromoFactory) ToJSON(p inventory.Promo) PromoJSON {
	pj := PromoJSON{
		ID:     int64(p.ID),
		Code:   p.Code,
		Name:   p.Name,
		Type:   string(p.Type),
		Active: &p.Active,
	}
	switch p.Type {
	case inventory.PromoPercentage:
		percent := p.Rule.Percent
		pj.Percent = &percent
	case inventory.PromoNominal:
		amount := p.Rule.Amount
		pj.Amount = &amount
	case inventory.PromoDayBased:
		group, pay := p.Rule.GroupSize, p.Rule.PayDays
		pj.GroupSize = &group
		pj.PayDays = &pay
	}
	return pj
}

// =============================================================================
// PRESETS
// =============================================================================

// PercentageOffJSON returns a percentage promo definition.
func PercentageOffJSON(code string, percent float64) string {
	return fmt.Sprintf(`{"code": %q, "name": "%s%% off", "type": "percentage", "percent": %s}`,
		code, decimal.NewFromFloat(percent).String(), decimal.NewFromFloat(percent).String())
}

// NominalOffJSON returns a fixed-amount promo definition.
func NominalOffJSON(code string, amount int64) string {
	return fmt.Sprintf(`{"code": %q, "name": "%d off", "type": "nominal", "amount": %d}`, code, amount, amount)
}

// PayForDaysJSON returns a "rent groupSize days, pay payDays" promo definition.
func PayForDaysJSON(code string, groupSize, payDays int) string {
	return fmt.Sprintf(`{"code": %q, "name": "Rent %d, pay %d", "type": "day_based", "group_size": %d, "pay_days": %d}`,
		code, groupSize, payDays, groupSize, payDays)
}
