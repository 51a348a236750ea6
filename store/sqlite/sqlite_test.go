package sqlite_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/logger"
	"github.com/warp/rental-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func setupTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var week = inventory.Days(2026, time.July, 6, 12)

// seedLenses creates a product with n units.
func seedLenses(t *testing.T, store *sqlite.Store, n int) *inventory.Product {
	t.Helper()
	ctx := context.Background()
	p := &inventory.Product{Name: "Lens", UnitPrice: 40000}
	require.NoError(t, store.SaveProduct(ctx, p))
	for i := 0; i < n; i++ {
		require.NoError(t, store.SaveUnit(ctx, &inventory.Unit{ProductID: p.ID, Serial: "L", Available: true}))
	}
	return p
}

func newBooking(t *testing.T, store *sqlite.Store, status inventory.Status, r inventory.DateRange) *inventory.Booking {
	t.Helper()
	b := &inventory.Booking{Range: r, Status: status}
	require.NoError(t, store.CreateBooking(context.Background(), b))
	return b
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestSQLite_Catalog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	lens := seedLenses(t, store, 2)

	got, err := store.GetProduct(ctx, lens.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lens", got.Name)
	assert.Equal(t, inventory.ProductActive, got.Status)

	units, err := store.ListUnits(ctx, lens.ID)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.True(t, units[0].Available)

	_, err = store.GetProduct(ctx, 99)
	assert.ErrorIs(t, err, inventory.ErrTargetNotFound)

	err = store.SaveUnit(ctx, &inventory.Unit{ProductID: 99})
	assert.ErrorIs(t, err, inventory.ErrTargetNotFound)
}

func TestSQLite_BundleKeepsComponentOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	lens := seedLenses(t, store, 1)
	body := &inventory.Product{Name: "Body", UnitPrice: 60000}
	require.NoError(t, store.SaveProduct(ctx, body))

	kit := &inventory.Bundle{Name: "Kit", Price: 150000, Components: []inventory.BundleComponent{
		{ProductID: body.ID, Quantity: 2},
		{ProductID: lens.ID, Quantity: 1},
	}}
	require.NoError(t, store.SaveBundle(ctx, kit))

	got, err := store.GetBundle(ctx, kit.ID)
	require.NoError(t, err)
	assert.Equal(t, kit.Components, got.Components)

	bundles, err := store.ListBundles(ctx)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Len(t, bundles[0].Components, 2)

	err = store.SaveBundle(ctx, &inventory.Bundle{Name: "Bad", Components: []inventory.BundleComponent{{ProductID: 42, Quantity: 1}}})
	assert.ErrorIs(t, err, inventory.ErrTargetNotFound)
}

func TestSQLite_Promos(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	promo := &inventory.Promo{Code: "SPRING12", Name: "12.5% off", Type: inventory.PromoPercentage,
		Rule: inventory.PromoRule{Percent: decimal.RequireFromString("12.5")}, Active: true}
	require.NoError(t, store.SavePromo(ctx, promo))

	got, err := store.GetPromo(ctx, promo.ID)
	require.NoError(t, err)
	assert.True(t, got.Rule.Percent.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got.Active)

	err = store.SavePromo(ctx, &inventory.Promo{Code: "SPRING12", Type: inventory.PromoNominal, Rule: inventory.PromoRule{Amount: 5}})
	assert.ErrorIs(t, err, inventory.ErrInvalidPromo)

	_, err = store.GetPromo(ctx, 404)
	assert.ErrorIs(t, err, inventory.ErrPromoNotFound)
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestSQLite_Booking_VersionCheck(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	b := newBooking(t, store, inventory.StatusPending, week)
	b.AddOns = []inventory.AddOn{{Name: "Delivery", Amount: 15000}}
	stale := *b

	require.NoError(t, store.UpdateBooking(ctx, b))
	assert.Equal(t, int64(2), b.Version)

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.AddOns, got.AddOns)
	assert.True(t, got.Range.Equal(week))

	err = store.UpdateBooking(ctx, &stale)
	assert.ErrorIs(t, err, inventory.ErrConcurrentModification)

	_, err = store.GetBooking(ctx, 99)
	assert.ErrorIs(t, err, inventory.ErrBookingNotFound)
}

func TestSQLite_LineItem_ClaimsAndAssignments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	lens := seedLenses(t, store, 2)
	target := inventory.ProductTarget(lens.ID)

	first := newBooking(t, store, inventory.StatusPending, week)
	li := &inventory.LineItem{BookingID: first.ID, Target: target, Quantity: 2, UnitIDs: []inventory.UnitID{2, 1}}
	require.NoError(t, store.SaveLineItem(ctx, li))

	// Assignment order is preserved
	items, err := store.ListLineItems(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []inventory.UnitID{2, 1}, items[0].UnitIDs)
	assert.Equal(t, int64(1), items[0].Version)

	// An overlapping active booking cannot claim the same unit
	second := newBooking(t, store, inventory.StatusPaid, inventory.Days(2026, time.July, 12, 14))
	err = store.SaveLineItem(ctx, &inventory.LineItem{BookingID: second.ID, Target: target, Quantity: 1, UnitIDs: []inventory.UnitID{1}})
	var conflict *inventory.AllocationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, inventory.UnitID(1), conflict.UnitID)
	assert.Equal(t, li.ID, conflict.HeldBy)

	held, err := store.ActiveAssignments(ctx, []inventory.ProductID{lens.ID}, week)
	require.NoError(t, err)
	assert.Len(t, held, 2)
}

func TestSQLite_LineItem_StaleVersion(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	lens := seedLenses(t, store, 2)
	b := newBooking(t, store, inventory.StatusPending, week)

	li := &inventory.LineItem{BookingID: b.ID, Target: inventory.ProductTarget(lens.ID), Quantity: 1, UnitIDs: []inventory.UnitID{1}}
	require.NoError(t, store.SaveLineItem(ctx, li))
	stale := *li

	li.UnitIDs = []inventory.UnitID{2}
	require.NoError(t, store.SaveLineItem(ctx, li))

	err := store.SaveLineItem(ctx, &stale)
	assert.ErrorIs(t, err, inventory.ErrConcurrentAllocationConflict)
}

func TestSQLite_CancelledBookingReleasesUnits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	lens := seedLenses(t, store, 1)
	b := newBooking(t, store, inventory.StatusPaid, week)
	li := &inventory.LineItem{BookingID: b.ID, Target: inventory.ProductTarget(lens.ID), Quantity: 1, UnitIDs: []inventory.UnitID{1}}
	require.NoError(t, store.SaveLineItem(ctx, li))

	b.Status = inventory.StatusCancelled
	require.NoError(t, store.UpdateBooking(ctx, b))

	held, err := store.ActiveAssignments(ctx, nil, week)
	require.NoError(t, err)
	assert.Empty(t, held)

	require.NoError(t, store.DeleteLineItem(ctx, li.ID))
	err = store.DeleteLineItem(ctx, li.ID)
	assert.ErrorIs(t, err, inventory.ErrLineItemNotFound)
}

func TestSQLite_WithTx_RollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx inventory.Store) error {
		require.NoError(t, tx.CreateBooking(ctx, &inventory.Booking{Range: week, Status: inventory.StatusPending}))
		return inventory.ErrInsufficientInventory
	})

	assert.ErrorIs(t, err, inventory.ErrInsufficientInventory)
	bookings, err := store.ListBookings(ctx, inventory.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

// =============================================================================
// INTEGRITY RUN & ADMIN TESTS
// =============================================================================

func TestSQLite_IntegrityRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, time.March, 1, 3, 0, 0, 0, time.UTC)

	run := inventory.IntegrityRun{ID: "run-1", Status: "running", StartedAt: started}
	require.NoError(t, store.SaveIntegrityRun(ctx, run))

	done := started.Add(time.Minute)
	run.Status = "completed"
	run.BookingsChecked = 4
	run.DriftFixed = 1
	run.CompletedAt = &done
	require.NoError(t, store.SaveIntegrityRun(ctx, run))
	require.NoError(t, store.SaveIntegrityRun(ctx, inventory.IntegrityRun{ID: "run-2", Status: "failed", Error: "boom", StartedAt: started.Add(time.Hour)}))

	runs, err := store.ListIntegrityRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Nil(t, runs[0].CompletedAt)
	assert.Equal(t, 4, runs[1].BookingsChecked)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, runs[1].CompletedAt.Equal(done))

	limited, err := store.ListIntegrityRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_Reset(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedLenses(t, store, 1)

	require.NoError(t, store.Reset(ctx))

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)

	// IDs restart after a reset
	p := seedLenses(t, store, 1)
	assert.Equal(t, inventory.ProductID(1), p.ID)
}

// =============================================================================
// SERVICE INTEGRATION
// =============================================================================

func TestSQLite_ServiceAllocatesAcrossBookings(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	lens := seedLenses(t, store, 2)
	svc := booking.NewService(store, booking.WithLogger(logger.Discard()))
	target := inventory.ProductTarget(lens.ID)

	first, err := svc.CreateBooking(ctx, booking.CreateBookingRequest{Range: week, Items: []booking.ItemRequest{{Target: target, Quantity: 2}}})
	require.NoError(t, err)
	assert.Equal(t, int64(560000), first.Booking.GrandTotal)

	_, err = svc.CreateBooking(ctx, booking.CreateBookingRequest{Range: week, Items: []booking.ItemRequest{{Target: target, Quantity: 1}}})
	assert.ErrorIs(t, err, inventory.ErrInsufficientInventory)

	_, err = svc.SetStatus(ctx, first.Booking.ID, inventory.StatusCancelled)
	require.NoError(t, err)
	second, err := svc.CreateBooking(ctx, booking.CreateBookingRequest{Range: week, Items: []booking.ItemRequest{{Target: target, Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, []inventory.UnitID{1}, second.LineItems[0].UnitIDs)

	report, err := svc.AuditIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.BookingsChecked)
	assert.Empty(t, report.Conflicts)
	assert.Zero(t, report.DriftFixed)
}

func TestSQLite_ConcurrentBookings_NoDoubleBooking(t *testing.T) {
	// GIVEN: 2 lens units and 8 customers booking one lens each for the same week
	// WHEN: All requests race through the service
	// THEN: Exactly 2 succeed, each with a different unit
	store := setupTestStore(t)
	ctx := context.Background()
	lens := seedLenses(t, store, 2)
	svc := booking.NewService(store, booking.WithLogger(logger.Discard()))
	target := inventory.ProductTarget(lens.ID)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateBooking(ctx, booking.CreateBookingRequest{Range: week, Items: []booking.ItemRequest{{Target: target, Quantity: 1}}})
			if err == nil {
				succeeded.Add(1)
			} else {
				assert.ErrorIs(t, err, inventory.ErrInsufficientInventory)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), succeeded.Load())
	assignments, err := store.ActiveAssignments(ctx, []inventory.ProductID{lens.ID}, week)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.NotEqual(t, assignments[0].UnitID, assignments[1].UnitID)
}
