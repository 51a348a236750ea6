/*
Package sqlite provides a SQLite-backed implementation of inventory.Backend.

PURPOSE:
  Persists the catalog, promos, booking ledger and integrity runs in a
  single SQLite file. This is the default backend of cmd/server.

KEY TABLES:
  products, units:    Catalog. units.available=0 excludes a unit forever
  bundles:            Flat-priced bundles
  bundle_components:  Ordered (product, quantity) requirements of a bundle
  promos:             Promo codes with their rule payload as JSON
  bookings:           Range, status and the four financial columns
  line_items:         Target (type + id), quantity, version
  unit_assignments:   Units held by a line item
  integrity_runs:     History of integrity sweeps

INDEXES:
  - idx_bookings_status_range: Overlap lookups of active bookings (hot path)
  - idx_assignments_unit: Claim re-check at write time

CONCURRENCY:
  WithTx holds the store mutex for the whole callback and runs it in one SQL
  transaction, so availability read and assignment write cannot interleave
  with another writer. The connection pool is capped at one connection.

TIME:
  Instants are stored as RFC3339 UTC text at second precision, so string
  comparison orders them correctly.

USAGE:
  store, err := sqlite.New("./data/rental.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := booking.NewService(store)

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/rental-engine/inventory"
)

// Store implements inventory.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and a single
	// writer is all SQLite allows anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		unit_price INTEGER NOT NULL CHECK (unit_price >= 0),
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS units (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		serial TEXT NOT NULL DEFAULT '',
		available INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_units_product
		ON units(product_id, id);

	CREATE TABLE IF NOT EXISTS bundles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price INTEGER NOT NULL CHECK (price >= 0)
	);

	CREATE TABLE IF NOT EXISTS bundle_components (
		bundle_id INTEGER NOT NULL REFERENCES bundles(id),
		position INTEGER NOT NULL,
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		PRIMARY KEY (bundle_id, position)
	);

	CREATE TABLE IF NOT EXISTS promos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		rule_json TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_ref TEXT NOT NULL DEFAULT '',
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		promo_id INTEGER REFERENCES promos(id),
		status TEXT NOT NULL,
		add_ons_json TEXT NOT NULL DEFAULT '[]',
		grand_total INTEGER NOT NULL DEFAULT 0,
		down_payment INTEGER NOT NULL DEFAULT 0,
		remaining_payment INTEGER NOT NULL DEFAULT 0,
		cancellation_fee INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_at >= start_at)
	);

	-- Active bookings overlapping a range (availability hot path)
	CREATE INDEX IF NOT EXISTS idx_bookings_status_range
		ON bookings(status, start_at, end_at);

	CREATE TABLE IF NOT EXISTS line_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER NOT NULL REFERENCES bookings(id),
		target_type TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_booking
		ON line_items(booking_id, id);

	CREATE TABLE IF NOT EXISTS unit_assignments (
		line_item_id INTEGER NOT NULL REFERENCES line_items(id),
		unit_id INTEGER NOT NULL REFERENCES units(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (line_item_id, unit_id)
	);

	-- Claim re-check at write time
	CREATE INDEX IF NOT EXISTS idx_assignments_unit
		ON unit_assignments(unit_id);

	CREATE TABLE IF NOT EXISTS integrity_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		bookings_checked INTEGER NOT NULL DEFAULT 0,
		drift_fixed INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) clock() time.Time { return s.now().UTC().Truncate(time.Second) }

func (s *Store) queries() *queries { return &queries{q: s.db, clock: s.clock} }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
// fn must only use the inventory.Store it is given.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx, clock: s.clock}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id inventory.ProductID) (*inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().GetProduct(ctx, id)
}

func (s *Store) GetBundle(ctx context.Context, id inventory.BundleID) (*inventory.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().GetBundle(ctx, id)
}

func (s *Store) ListUnits(ctx context.Context, productID inventory.ProductID) ([]inventory.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().ListUnits(ctx, productID)
}

func (s *Store) GetPromo(ctx context.Context, id inventory.PromoID) (*inventory.Promo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().GetPromo(ctx, id)
}

func (s *Store) SaveProduct(ctx context.Context, p *inventory.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().saveProduct(ctx, p)
}

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().listProducts(ctx)
}

func (s *Store) SaveUnit(ctx context.Context, u *inventory.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().saveUnit(ctx, u)
}

func (s *Store) SaveBundle(ctx context.Context, b *inventory.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Components are replaced as a whole.
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (&queries{q: sqlTx, clock: s.clock}).saveBundle(ctx, b); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) ListBundles(ctx context.Context) ([]inventory.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().listBundles(ctx)
}

func (s *Store) SavePromo(ctx context.Context, p *inventory.Promo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().savePromo(ctx, p)
}

func (s *Store) ListPromos(ctx context.Context) ([]inventory.Promo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().listPromos(ctx)
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) ActiveAssignments(ctx context.Context, productIDs []inventory.ProductID, r inventory.DateRange) ([]inventory.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().ActiveAssignments(ctx, productIDs, r)
}

func (s *Store) CreateBooking(ctx context.Context, b *inventory.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().CreateBooking(ctx, b)
}

func (s *Store) GetBooking(ctx context.Context, id inventory.BookingID) (*inventory.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().GetBooking(ctx, id)
}

func (s *Store) UpdateBooking(ctx context.Context, b *inventory.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().UpdateBooking(ctx, b)
}

func (s *Store) ListBookings(ctx context.Context, filter inventory.BookingFilter) ([]inventory.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().ListBookings(ctx, filter)
}

func (s *Store) ListLineItems(ctx context.Context, bookingID inventory.BookingID) ([]inventory.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().ListLineItems(ctx, bookingID)
}

// SaveLineItem outside WithTx still writes the line item and its units
// atomically.
func (s *Store) SaveLineItem(ctx context.Context, li *inventory.LineItem) error {
	return s.WithTx(ctx, func(tx inventory.Store) error {
		return tx.SaveLineItem(ctx, li)
	})
}

func (s *Store) DeleteLineItem(ctx context.Context, id inventory.LineItemID) error {
	return s.WithTx(ctx, func(tx inventory.Store) error {
		return tx.DeleteLineItem(ctx, id)
	})
}

// =============================================================================
// INTEGRITY RUNS & ADMIN
// =============================================================================

func (s *Store) SaveIntegrityRun(ctx context.Context, run inventory.IntegrityRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries().saveIntegrityRun(ctx, run)
}

func (s *Store) ListIntegrityRuns(ctx context.Context, limit int) ([]inventory.IntegrityRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries().listIntegrityRuns(ctx, limit)
}

// Reset deletes all data (for development/testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"unit_assignments", "line_items", "bookings", "promos",
		"bundle_components", "bundles", "units", "products", "integrity_runs",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	// sqlite_sequence exists once any AUTOINCREMENT table received a row.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil && !strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("failed to reset sequences: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", value, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
