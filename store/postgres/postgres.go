/*
Package postgres provides a PostgreSQL implementation of inventory.Backend.

PURPOSE:
  Same tables and semantics as store/sqlite, for deployments that run
  more than one server process against one database.

CONCURRENCY:
  Inside WithTx the allocator locks the unit rows of every product it is
  about to assign (SELECT ... FOR UPDATE, ascending id), and GetBooking
  locks the booking row. Two transactions allocating the same product
  serialize on those locks, so the availability they read is current.
  Serialization failures (40001) and deadlocks (40P01) surface as
  inventory.ErrConcurrentAllocationConflict, which the booking service
  retries once.

USAGE:
  store, err := postgres.New(cfg.PostgresDSN())
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite: Default single-file backend
  - inventory/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/warp/rental-engine/inventory"
)

// Store implements inventory.Backend on PostgreSQL.
type Store struct {
	db *sql.DB
	*queries
}

var (
	_ inventory.Backend    = (*Store)(nil)
	_ inventory.UnitLocker = (*txQueries)(nil)
)

// New opens the database, checks the connection and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open connection pool without migrating.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, queries: &queries{q: db}}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	unit_price BIGINT NOT NULL CHECK (unit_price >= 0),
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS units (
	id BIGSERIAL PRIMARY KEY,
	product_id BIGINT NOT NULL REFERENCES products(id),
	serial TEXT NOT NULL DEFAULT '',
	available BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_units_product ON units(product_id, id);

CREATE TABLE IF NOT EXISTS bundles (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	price BIGINT NOT NULL CHECK (price >= 0)
);

CREATE TABLE IF NOT EXISTS bundle_components (
	bundle_id BIGINT NOT NULL REFERENCES bundles(id),
	position INT NOT NULL,
	product_id BIGINT NOT NULL REFERENCES products(id),
	quantity INT NOT NULL CHECK (quantity >= 1),
	PRIMARY KEY (bundle_id, position)
);

CREATE TABLE IF NOT EXISTS promos (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	rule JSONB NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS bookings (
	id BIGSERIAL PRIMARY KEY,
	customer_ref TEXT NOT NULL DEFAULT '',
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ NOT NULL,
	promo_id BIGINT REFERENCES promos(id),
	status TEXT NOT NULL,
	add_ons JSONB NOT NULL DEFAULT '[]',
	grand_total BIGINT NOT NULL DEFAULT 0,
	down_payment BIGINT NOT NULL DEFAULT 0,
	remaining_payment BIGINT NOT NULL DEFAULT 0,
	cancellation_fee BIGINT NOT NULL DEFAULT 0,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CHECK (end_at >= start_at)
);
CREATE INDEX IF NOT EXISTS idx_bookings_status_range ON bookings(status, start_at, end_at);

CREATE TABLE IF NOT EXISTS line_items (
	id BIGSERIAL PRIMARY KEY,
	booking_id BIGINT NOT NULL REFERENCES bookings(id),
	target_type TEXT NOT NULL,
	target_id BIGINT NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 1),
	version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_line_items_booking ON line_items(booking_id, id);

CREATE TABLE IF NOT EXISTS unit_assignments (
	line_item_id BIGINT NOT NULL REFERENCES line_items(id),
	unit_id BIGINT NOT NULL REFERENCES units(id),
	position INT NOT NULL,
	PRIMARY KEY (line_item_id, unit_id)
);
CREATE INDEX IF NOT EXISTS idx_assignments_unit ON unit_assignments(unit_id);

CREATE TABLE IF NOT EXISTS integrity_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	bookings_checked INT NOT NULL DEFAULT 0,
	drift_fixed INT NOT NULL DEFAULT 0,
	conflicts INT NOT NULL DEFAULT 0,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken through
// the transactional store are held until commit.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	return s.inTx(ctx, func(tx *txQueries) error { return fn(tx) })
}

func (s *Store) inTx(ctx context.Context, fn func(*txQueries) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&txQueries{queries: &queries{q: tx, forUpdate: true}}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
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

func (s *Store) SaveBundle(ctx context.Context, b *inventory.Bundle) error {
	return s.inTx(ctx, func(tx *txQueries) error {
		return tx.saveBundle(ctx, b)
	})
}

// Reset deletes all data (for development/testing).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE unit_assignments, line_items, bookings, promos,
			bundle_components, bundles, units, products, integrity_runs
		RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	return nil
}

// txQueries is the inventory.Store handed to WithTx callbacks.
type txQueries struct {
	*queries
}

// LockUnits locks every unit row of the given products until commit.
func (t *txQueries) LockUnits(ctx context.Context, productIDs []inventory.ProductID) error {
	if len(productIDs) == 0 {
		return nil
	}
	rows, err := t.q.QueryContext(ctx,
		`SELECT id FROM units WHERE product_id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(int64s(productIDs)))
	if err != nil {
		return mapError(fmt.Errorf("failed to lock units: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
	}
	return mapError(rows.Err())
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// mapError turns serialization failures and deadlocks into allocation
// conflicts. Other errors pass through unchanged.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", inventory.ErrConcurrentAllocationConflict, pqErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}

func int64s[T ~int64](ids []T) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
