/*
types.go - Core domain types for the rental inventory engine

PURPOSE:
  Defines the catalog (Product, Unit, Bundle), the booking ledger
  (Booking, LineItem, Assignment) and promotions (Promo). Everything the
  availability calculator, allocator, pricing engine and payment state
  machine operate on lives here.

KEY CONCEPTS:
  Unit:      One serialized physical item. The atomic allocatable resource.
  Target:    What a line item rents. Either a Product or a Bundle, never both.
  Active:    pending, paid and rented bookings block their units.
             cancelled and finished bookings never block.

MONEY:
  All amounts are int64 in the smallest currency unit. Prices are per day.

SEE ALSO:
  - time.go: DateRange and duration rules
  - store.go: Persistence interfaces
  - availability.go: Free-unit computation
*/
package inventory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ProductID  int64
	UnitID     int64
	BundleID   int64
	BookingID  int64
	LineItemID int64
	PromoID    int64
)

// =============================================================================
// CATALOG
// =============================================================================

type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

// Product is a rentable item type with a per-day unit price.
type Product struct {
	ID        ProductID
	Name      string
	UnitPrice int64
	Status    ProductStatus
}

// Unit is one serialized instance of a Product.
// Units with Available=false are administratively disabled and never allocated.
type Unit struct {
	ID        UnitID
	ProductID ProductID
	Serial    string
	Available bool
}

// BundleComponent is one (product, quantity per bundle) pair.
type BundleComponent struct {
	ProductID ProductID
	Quantity  int
}

// Bundle is a fixed-price composite. Renting N bundles needs
// N x Quantity units of every component product.
type Bundle struct {
	ID         BundleID
	Name       string
	Price      int64
	Components []BundleComponent
}

// Requirements returns the per-bundle quantity of each product in component
// order. Repeated products are merged into their first position.
func (b Bundle) Requirements() []BundleComponent {
	var out []BundleComponent
	index := make(map[ProductID]int)
	for _, c := range b.Components {
		if i, ok := index[c.ProductID]; ok {
			out[i].Quantity += c.Quantity
			continue
		}
		index[c.ProductID] = len(out)
		out = append(out, c)
	}
	return out
}

// UnitsPerBundle is the number of units one bundle consumes across all components.
func (b Bundle) UnitsPerBundle() int {
	n := 0
	for _, c := range b.Components {
		n += c.Quantity
	}
	return n
}

// =============================================================================
// TARGET - tagged variant: Product(id) | Bundle(id)
// =============================================================================

type TargetKind string

const (
	TargetProduct TargetKind = "product"
	TargetBundle  TargetKind = "bundle"
)

// Target identifies what a line item rents. The zero value is invalid.
// Fields are unexported so a Target can never reference both kinds.
type Target struct {
	kind TargetKind
	id   int64
}

func ProductTarget(id ProductID) Target { return Target{kind: TargetProduct, id: int64(id)} }
func BundleTarget(id BundleID) Target   { return Target{kind: TargetBundle, id: int64(id)} }

// ParseTarget builds a Target from its persisted (kind, id) form.
func ParseTarget(kind string, id int64) (Target, error) {
	switch TargetKind(kind) {
	case TargetProduct:
		return ProductTarget(ProductID(id)), nil
	case TargetBundle:
		return BundleTarget(BundleID(id)), nil
	default:
		return Target{}, fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, kind)
	}
}

func (t Target) Kind() TargetKind { return t.kind }
func (t Target) ID() int64        { return t.id }
func (t Target) IsZero() bool     { return t.kind == "" }

// Product returns the product id when the target is a product.
func (t Target) Product() (ProductID, bool) {
	return ProductID(t.id), t.kind == TargetProduct
}

// Bundle returns the bundle id when the target is a bundle.
func (t Target) Bundle() (BundleID, bool) {
	return BundleID(t.id), t.kind == TargetBundle
}

func (t Target) String() string {
	if t.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%d", t.kind, t.id)
}

type targetJSON struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON{Type: string(t.kind), ID: t.id})
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var raw targetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTarget(raw.Type, raw.ID)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// =============================================================================
// BOOKING LEDGER
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusRented    Status = "rented"
	StatusFinished  Status = "finished"
)

// ActiveStatuses block unit availability.
var ActiveStatuses = []Status{StatusPending, StatusPaid, StatusRented}

// IsActive reports whether a booking in this status holds its units.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusPaid || s == StatusRented
}

// IsSettled reports whether the status implies the full grand total was collected.
func (s Status) IsSettled() bool {
	return s == StatusPaid || s == StatusRented || s == StatusFinished
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusPaid, StatusCancelled, StatusRented, StatusFinished:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// AddOn is a named flat charge, independent of duration and promo.
type AddOn struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// Booking is a rental transaction. The financial fields are persisted as
// first-class values so readers never need to invoke the engine.
type Booking struct {
	ID          BookingID
	CustomerRef string
	Range       DateRange
	PromoID     *PromoID
	Status      Status
	AddOns      []AddOn

	GrandTotal       int64
	DownPayment      int64
	RemainingPayment int64
	CancellationFee  int64

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration is the inclusive rental day count of the booking.
func (b Booking) Duration() int { return b.Range.Days() }

// LineItem is one row within a booking.
type LineItem struct {
	ID        LineItemID
	BookingID BookingID
	Target    Target
	Quantity  int
	UnitIDs   []UnitID
	Version   int64
}

// Assignment is one unit held by a line item of a booking.
type Assignment struct {
	UnitID     UnitID
	LineItemID LineItemID
	BookingID  BookingID
	Range      DateRange
	Status     Status
}

// BookingFilter narrows ListBookings. Zero value lists everything.
type BookingFilter struct {
	Status *Status
	Limit  int
}

// =============================================================================
// PROMOTIONS
// =============================================================================

type PromoType string

const (
	PromoPercentage PromoType = "percentage"
	PromoNominal    PromoType = "nominal"
	PromoDayBased   PromoType = "day_based"
)

// PromoRule is the type-specific payload. Only the fields of the promo's
// type are meaningful.
type PromoRule struct {
	Percent   decimal.Decimal `json:"percent"`
	Amount    int64           `json:"amount,omitempty"`
	GroupSize int             `json:"group_size,omitempty"`
	PayDays   int             `json:"pay_days,omitempty"`
}

type Promo struct {
	ID     PromoID
	Code   string
	Name   string
	Type   PromoType
	Rule   PromoRule
	Active bool
}

// =============================================================================
// INTEGRITY RUNS
// =============================================================================

// IntegrityRun records one sweep over the ledger.
type IntegrityRun struct {
	ID              string
	Status          string // running, completed, failed
	BookingsChecked int
	DriftFixed      int
	Conflicts       int
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
}
