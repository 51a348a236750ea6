/*
store.go - Persistence interfaces for catalog, ledger and promos

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  reads the catalog and promos, and reads/writes the booking ledger.
  Implementations: in-memory (inventory/store), SQLite (store/sqlite),
  PostgreSQL (store/postgres).

KEY INTERFACES:
  Catalog:     Products, units, bundles (read-only to the engine)
  Ledger:      Bookings, line items and their unit assignments
  PromoStore:  Promo lookup (read-only to the engine)
  TxStore:     Store + WithTx, the critical section for check-then-assign
  UnitLocker:  Optional row locking for databases that support it

CRITICAL SECTION:
  Availability check and assignment of a line item happen inside one
  WithTx callback. Implementations must guarantee two callbacks that touch
  the same product cannot both commit the same unit for overlapping dates:
  - memory: write lock held for the whole callback
  - sqlite: store mutex + SQL transaction
  - postgres: SELECT ... FOR UPDATE on the product's unit rows
  SaveLineItem re-checks every unit at write time and returns
  ErrConcurrentAllocationConflict when another active line item holds it.

SEE ALSO:
  - availability.go, allocator.go: Consumers of Catalog + Ledger
  - booking/service.go: Wraps every mutation in WithTx
*/
package inventory

import "context"

// =============================================================================
// CATALOG & PROMOS - read by the engine
// =============================================================================

// Catalog resolves products, units and bundles.
// Missing products or bundles return a *TargetNotFoundError.
type Catalog interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	GetBundle(ctx context.Context, id BundleID) (*Bundle, error)

	// ListUnits returns every unit of the product ordered by ascending id,
	// including administratively disabled ones.
	ListUnits(ctx context.Context, productID ProductID) ([]Unit, error)
}

// PromoStore resolves promos. Missing promos return ErrPromoNotFound.
type PromoStore interface {
	GetPromo(ctx context.Context, id PromoID) (*Promo, error)
}

// =============================================================================
// LEDGER - bookings, line items, assignments
// =============================================================================

// AssignmentReader is the only read the availability calculator needs.
type AssignmentReader interface {
	// ActiveAssignments returns units of the given products held by line
	// items of active bookings whose range overlaps r (inclusive).
	ActiveAssignments(ctx context.Context, productIDs []ProductID, r DateRange) ([]Assignment, error)
}

// Ledger stores bookings and line items.
type Ledger interface {
	AssignmentReader

	// CreateBooking inserts b, setting its ID and Version.
	CreateBooking(ctx context.Context, b *Booking) error

	// GetBooking returns ErrBookingNotFound when missing.
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// UpdateBooking writes b if its Version still matches and bumps it.
	// A stale version returns ErrConcurrentModification.
	UpdateBooking(ctx context.Context, b *Booking) error

	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)

	// ListLineItems returns the booking's line items ordered by id.
	ListLineItems(ctx context.Context, bookingID BookingID) ([]LineItem, error)

	// SaveLineItem inserts li when li.ID is zero, otherwise updates it with a
	// version check. The assigned unit set is replaced. Returns an
	// *AllocationConflictError if an active overlapping line item of another
	// booking, or another line item of the same booking, holds one of the units.
	SaveLineItem(ctx context.Context, li *LineItem) error

	// DeleteLineItem removes the line item and releases its units.
	DeleteLineItem(ctx context.Context, id LineItemID) error
}

// Store is everything the engine reads and writes.
type Store interface {
	Catalog
	PromoStore
	Ledger
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// UnitLocker is implemented by transactional stores that can lock unit rows.
// The allocator calls it before reading availability.
type UnitLocker interface {
	LockUnits(ctx context.Context, productIDs []ProductID) error
}

// =============================================================================
// ADMINISTRATION - catalog seeding and integrity bookkeeping
// =============================================================================

// CatalogAdmin writes catalog entries and promos. Not used by the engine.
type CatalogAdmin interface {
	SaveProduct(ctx context.Context, p *Product) error
	ListProducts(ctx context.Context) ([]Product, error)
	SaveUnit(ctx context.Context, u *Unit) error
	SaveBundle(ctx context.Context, b *Bundle) error
	ListBundles(ctx context.Context) ([]Bundle, error)
	SavePromo(ctx context.Context, p *Promo) error
	ListPromos(ctx context.Context) ([]Promo, error)
}

// IntegrityLog records integrity sweeps.
type IntegrityLog interface {
	SaveIntegrityRun(ctx context.Context, run IntegrityRun) error
	ListIntegrityRuns(ctx context.Context, limit int) ([]IntegrityRun, error)
}

// Backend is the full surface a server needs from a store.
type Backend interface {
	TxStore
	CatalogAdmin
	IntegrityLog

	// Reset deletes all data. Development only.
	Reset(ctx context.Context) error
	Close() error
}
