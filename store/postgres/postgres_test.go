package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/store/postgres"
)

func setupMock(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return postgres.NewWithDB(db), mock
}

var (
	july        = inventory.Days(2026, time.July, 1, 3)
	bookingCols = []string{"id", "customer_ref", "start_at", "end_at", "promo_id", "status", "add_ons",
		"grand_total", "down_payment", "remaining_payment", "cancellation_fee", "version", "created_at", "updated_at"}
)

func TestGetProduct(t *testing.T) {
	store, mock := setupMock(t)
	query := regexp.QuoteMeta(`SELECT id, name, unit_price, status FROM products WHERE id = $1`)

	mock.ExpectQuery(query).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "unit_price", "status"}).
			AddRow(3, "Camera", 60000, "active"))

	p, err := store.GetProduct(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, inventory.ProductID(3), p.ID)
	assert.Equal(t, int64(60000), p.UnitPrice)
	assert.Equal(t, inventory.ProductActive, p.Status)
}

func TestGetProduct_NotFound(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectQuery(`FROM products WHERE id = \$1`).WithArgs(9).WillReturnError(sql.ErrNoRows)

	_, err := store.GetProduct(context.Background(), 9)

	assert.ErrorIs(t, err, inventory.ErrTargetNotFound)
	var notFound *inventory.TargetNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, inventory.ProductTarget(9), notFound.Target)
}

func TestCreateBooking_ReturnsID(t *testing.T) {
	store, mock := setupMock(t)
	b := &inventory.Booking{Range: july, Status: inventory.StatusPending, GrandTotal: 180000}

	mock.ExpectQuery(`INSERT INTO bookings .* RETURNING id`).
		WithArgs("", july.Start, july.End, nil, "pending", []byte("[]"),
			int64(180000), int64(0), int64(0), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	require.NoError(t, store.CreateBooking(context.Background(), b))

	assert.Equal(t, inventory.BookingID(7), b.ID)
	assert.Equal(t, int64(1), b.Version)
	assert.False(t, b.CreatedAt.IsZero())
}

func TestCreateBooking_InvalidRange(t *testing.T) {
	store, _ := setupMock(t)

	err := store.CreateBooking(context.Background(), &inventory.Booking{Range: inventory.DateRange{Start: july.End, End: july.Start}})

	assert.ErrorIs(t, err, inventory.ErrInvalidDateRange)
}

func TestUpdateBooking_VersionMismatch(t *testing.T) {
	store, mock := setupMock(t)
	b := &inventory.Booking{ID: 4, Range: july, Status: inventory.StatusPaid, Version: 2}

	mock.ExpectExec(`UPDATE bookings SET .* WHERE id=\$12 AND version=\$13`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM bookings WHERE id = $1`)).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))

	err := store.UpdateBooking(context.Background(), b)

	assert.ErrorIs(t, err, inventory.ErrConcurrentModification)
	assert.Equal(t, int64(2), b.Version)
}

func TestUpdateBooking_BumpsVersion(t *testing.T) {
	store, mock := setupMock(t)
	b := &inventory.Booking{ID: 4, Range: july, Status: inventory.StatusPaid, Version: 2}

	mock.ExpectExec(`UPDATE bookings SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateBooking(context.Background(), b))
	assert.Equal(t, int64(3), b.Version)
}

func TestWithTx_GetBookingLocksRow(t *testing.T) {
	store, mock := setupMock(t)
	created := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).WithArgs(4).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(
			4, "ref-1", july.Start, july.End, 2, "pending", []byte(`[{"name":"Delivery","amount":15000}]`),
			195000, 97500, 97500, 97500, 3, created, created))
	mock.ExpectCommit()

	var got *inventory.Booking
	err := store.WithTx(context.Background(), func(tx inventory.Store) error {
		var err error
		got, err = tx.GetBooking(context.Background(), 4)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, inventory.StatusPending, got.Status)
	require.NotNil(t, got.PromoID)
	assert.Equal(t, inventory.PromoID(2), *got.PromoID)
	assert.Equal(t, []inventory.AddOn{{Name: "Delivery", Amount: 15000}}, got.AddOns)
	assert.True(t, got.Range.Equal(july))
}

func TestWithTx_LockUnits(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM units WHERE product_id = ANY($1) ORDER BY id FOR UPDATE`)).
		WithArgs(pq.Array([]int64{1, 2})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx inventory.Store) error {
		locker, ok := tx.(inventory.UnitLocker)
		require.True(t, ok)
		return locker.LockUnits(context.Background(), []inventory.ProductID{1, 2})
	})

	require.NoError(t, err)
}

func TestWithTx_SerializationFailureIsAllocationConflict(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx inventory.Store) error {
		return &pq.Error{Code: "40001", Message: "could not serialize access"}
	})

	assert.ErrorIs(t, err, inventory.ErrConcurrentAllocationConflict)
}

func TestWithTx_DeadlockOnCommit(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})

	err := store.WithTx(context.Background(), func(tx inventory.Store) error { return nil })

	assert.ErrorIs(t, err, inventory.ErrConcurrentAllocationConflict)
}

func TestWithTx_OtherErrorsPassThrough(t *testing.T) {
	store, mock := setupMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx inventory.Store) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, inventory.ErrConcurrentAllocationConflict)
}

func TestListIntegrityRuns(t *testing.T) {
	store, mock := setupMock(t)
	started := time.Date(2026, time.March, 1, 3, 0, 0, 0, time.UTC)
	done := started.Add(time.Minute)

	mock.ExpectQuery(`FROM integrity_runs ORDER BY started_at DESC LIMIT \$1`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "bookings_checked", "drift_fixed", "conflicts", "error", "started_at", "completed_at"}).
			AddRow("run-2", "failed", 0, 0, 0, "boom", started.Add(time.Hour), nil).
			AddRow("run-1", "completed", 4, 1, 0, nil, started, done))

	runs, err := store.ListIntegrityRuns(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Nil(t, runs[0].CompletedAt)
	assert.Equal(t, 4, runs[1].BookingsChecked)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, runs[1].CompletedAt.Equal(done))
}

func TestReset_TruncatesAndRestartsIdentity(t *testing.T) {
	store, mock := setupMock(t)

	mock.ExpectExec(`TRUNCATE unit_assignments, line_items, bookings, .* RESTART IDENTITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Reset(context.Background()))
}
