/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Catalog endpoints (products, units, bundles)
- Availability and quotes
- Booking lifecycle through the router
- Error codes and structured details
- Integrity runs
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/inventory/store"
	"github.com/warp/rental-engine/logger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func setupTestHandler(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	m := store.NewMemory()
	t.Cleanup(func() { m.Close() })

	svc := booking.NewService(m, booking.WithLogger(logger.Discard()))
	h := NewHandler(m, svc)
	return h, NewRouter(h, nil)
}

// setupCameraShop loads the camera-shop scenario: body (id 1, units 1-5),
// lens (id 2, units 6-7), kit (id 1) = 2 bodies + 1 lens, promos SPRING20 (1)
// and WELCOME25K (2).
func setupCameraShop(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	h, router := setupTestHandler(t)
	require.NoError(t, h.loadScenario(context.Background(), ScenarioCameraShop))
	return h, router
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

func kitBooking(qty int) map[string]any {
	return map[string]any{
		"customer_ref": "test",
		"start":        "2026-03-10",
		"end":          "2026-03-12",
		"items":        []map[string]any{{"target": map[string]any{"type": "bundle", "id": 1}, "quantity": qty}},
	}
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestCreateProduct_WithUnits(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/api/products", map[string]any{
		"name": "Drone", "unit_price": 90000, "units": 2, "serial_prefix": "DR",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[ProductDTO](t, rec)
	assert.Equal(t, "active", p.Status)
	require.Len(t, p.Units, 2)

	rec = doRequest(t, router, http.MethodGet, "/api/products/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ProductDTO](t, rec)
	assert.Equal(t, "Drone", got.Name)
	assert.Len(t, got.Units, 2)

	rec = doRequest(t, router, http.MethodPost, "/api/products/1/units", map[string]any{"serial": "DR-9"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[UnitDTO](t, rec).Available)
}

func TestGetProduct_NotFound(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodGet, "/api/products/42", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "target_not_found", decode[errorBody](t, rec).Code)

	rec = doRequest(t, router, http.MethodGet, "/api/products/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBundle_UnknownComponent(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/api/bundles", map[string]any{
		"name": "Kit", "price": 1000, "components": []map[string]any{{"product_id": 7, "quantity": 1}},
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePromo_ThroughFactory(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/api/promos", map[string]any{
		"code": "WEEKLY", "type": "day_based", "group_size": 3, "pay_days": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/api/promos", map[string]any{"code": "BAD", "type": "bogo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_promo", decode[errorBody](t, rec).Code)

	rec = doRequest(t, router, http.MethodGet, "/api/promos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

// =============================================================================
// AVAILABILITY & QUOTE TESTS
// =============================================================================

func TestGetAvailability_Bundle(t *testing.T) {
	_, router := setupCameraShop(t)

	rec := doRequest(t, router, http.MethodGet, "/api/availability?type=bundle&id=1&start=2026-03-10&end=2026-03-12", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	avail := decode[AvailabilityDTO](t, rec)
	assert.Equal(t, 2, avail.Count)
	assert.Len(t, avail.UnitIDs, 7)
	require.Len(t, avail.Components, 2)
	assert.Equal(t, 2, avail.Components[0].Required)
}

func TestGetAvailability_BadInput(t *testing.T) {
	_, router := setupCameraShop(t)

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"missing id", "type=product&start=2026-03-10&end=2026-03-12", "invalid_request"},
		{"unknown type", "type=widget&id=1&start=2026-03-10&end=2026-03-12", "invalid_target"},
		{"end before start", "type=product&id=1&start=2026-03-12&end=2026-03-10", "invalid_date_range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/availability?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, rec).Code)
		})
	}
}

func TestQuote_WithPromo(t *testing.T) {
	_, router := setupCameraShop(t)

	rec := doRequest(t, router, http.MethodPost, "/api/quote", map[string]any{
		"start":    "2026-03-10",
		"end":      "2026-03-13",
		"promo_id": 1,
		"items":    []map[string]any{{"target": map[string]any{"type": "product", "id": 1}, "quantity": 1}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[map[string]any](t, rec)
	// 60,000 x 4 days less 20%
	assert.Equal(t, float64(192000), got["grand_total"])
}

func TestQuote_AmountOverflow(t *testing.T) {
	_, router := setupCameraShop(t)

	rec := doRequest(t, router, http.MethodPost, "/api/quote", map[string]any{
		"start": "2026-03-10",
		"end":   "2026-03-13",
		"items": []map[string]any{{"target": map[string]any{"type": "product", "id": 1}, "quantity": 1 << 50}},
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "amount_overflow", decode[errorBody](t, rec).Code)
}

// =============================================================================
// BOOKING TESTS
// =============================================================================

func TestCreateBooking_AllocatesBundle(t *testing.T) {
	_, router := setupCameraShop(t)

	rec := doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(2))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decode[BookingDTO](t, rec)
	assert.Equal(t, int64(900000), b.GrandTotal)
	assert.Equal(t, int64(450000), b.DownPayment)
	assert.Equal(t, "pending", b.Status)
	assert.Equal(t, 3, b.Duration)
	require.Len(t, b.LineItems, 1)
	assert.Len(t, b.LineItems[0].UnitIDs, 6)
	require.NotNil(t, b.Breakdown)
	assert.Equal(t, int64(150000), b.Breakdown.Subtotal)
}

func TestCreateBooking_Insufficient(t *testing.T) {
	// GIVEN: Both kits are booked
	_, router := setupCameraShop(t)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(2)).Code)

	// WHEN: One more kit is requested
	rec := doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1))

	// THEN: 409 with the bottleneck body (1 free, 2 required)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "insufficient_inventory", body.Code)
	assert.Equal(t, float64(1), body.Details["shortfall"])
	assert.Equal(t, float64(0), body.Details["available"])
	assert.Equal(t, float64(1), body.Details["bottleneck_product_id"])
	assert.Equal(t, float64(2), body.Details["component_required"])
	assert.Equal(t, float64(1), body.Details["component_available"])
}

func TestCreateBooking_HugeQuantityIsInsufficient(t *testing.T) {
	// GIVEN: A request for more kits than an int can count units for
	_, router := setupCameraShop(t)

	rec := doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(math.MaxInt))

	// THEN: A regular 409 instead of a recovered panic
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "insufficient_inventory", decode[errorBody](t, rec).Code)
}

func TestCreateBooking_BadRequests(t *testing.T) {
	_, router := setupCameraShop(t)

	bad := kitBooking(1)
	bad["end"] = "2026-03-01"
	rec := doRequest(t, router, http.MethodPost, "/api/bookings", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date_range", decode[errorBody](t, rec).Code)

	rec = doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", decode[errorBody](t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewBufferString("{"))
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestGetBooking_NotFound(t *testing.T) {
	_, router := setupCameraShop(t)

	rec := doRequest(t, router, http.MethodGet, "/api/bookings/99", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "booking_not_found", decode[errorBody](t, rec).Code)
}

func TestDownPayment_ValidatedAndInferred(t *testing.T) {
	_, router := setupCameraShop(t)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1)).Code)

	// Below the 50% floor of 450,000
	rec := doRequest(t, router, http.MethodPut, "/api/bookings/1/down-payment", map[string]any{"amount": 100})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "invalid_down_payment", body.Code)
	assert.Equal(t, float64(225000), body.Details["min"])
	assert.Equal(t, float64(450000), body.Details["max"])

	// Full amount
	rec = doRequest(t, router, http.MethodPut, "/api/bookings/1/down-payment", map[string]any{"amount": 450000})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DownPaymentResponse{Status: "paid", RemainingPayment: 0}, decode[DownPaymentResponse](t, rec))

	// Inferred edit below the floor cancels
	rec = doRequest(t, router, http.MethodPut, "/api/bookings/1/down-payment", map[string]any{"amount": 100, "infer": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[DownPaymentResponse](t, rec).Status)
}

func TestSetStatus(t *testing.T) {
	_, router := setupCameraShop(t)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1)).Code)

	rec := doRequest(t, router, http.MethodPut, "/api/bookings/1/status", map[string]any{"status": "rented"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusResponse{DownPayment: 450000, RemainingPayment: 0}, decode[StatusResponse](t, rec))

	rec = doRequest(t, router, http.MethodPut, "/api/bookings/1/status", map[string]any{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decode[errorBody](t, rec).Code)
}

func TestLineItems_AddAndRemove(t *testing.T) {
	_, router := setupCameraShop(t)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1)).Code)
	require.Equal(t, http.StatusOK, doRequest(t, router, http.MethodPut, "/api/bookings/1/status", map[string]any{"status": "paid"}).Code)

	// WHEN: A lens is added
	rec := doRequest(t, router, http.MethodPut, "/api/bookings/1/line-items", map[string]any{
		"target": map[string]any{"type": "product", "id": 2}, "quantity": 1,
	})

	// THEN: 201 with the last free lens
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[LineItemResponse](t, rec)
	assert.Equal(t, []int64{7}, added.AssignedUnitIDs)
	assert.Equal(t, int64(570000), added.Breakdown.GrandTotal)

	// AND: A second lens does not fit
	rec = doRequest(t, router, http.MethodPut, "/api/bookings/1/line-items", map[string]any{
		"target": map[string]any{"type": "product", "id": 2}, "quantity": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: The added line item is removed
	rec = doRequest(t, router, http.MethodDelete, "/api/bookings/1/line-items/2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(450000), decode[BookingDTO](t, rec).GrandTotal)

	// AND: The last one cannot be
	rec = doRequest(t, router, http.MethodDelete, "/api/bookings/1/line-items/1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "last_line_item", decode[errorBody](t, rec).Code)
}

func TestPromoAndAddOns(t *testing.T) {
	_, router := setupCameraShop(t)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1)).Code)

	rec := doRequest(t, router, http.MethodPut, "/api/bookings/1/promo", map[string]any{"promo_id": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(425000), decode[map[string]any](t, rec)["grand_total"])

	rec = doRequest(t, router, http.MethodPut, "/api/bookings/1/add-ons", map[string]any{
		"add_ons": []map[string]any{{"name": "Delivery", "amount": 25000}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(450000), decode[map[string]any](t, rec)["grand_total"])

	rec = doRequest(t, router, http.MethodPut, "/api/bookings/1/promo", map[string]any{"promo_id": 9})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "promo_not_found", decode[errorBody](t, rec).Code)
}

func TestListBookings_Filter(t *testing.T) {
	_, router := setupCameraShop(t)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1)).Code)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1)).Code)
	require.Equal(t, http.StatusOK, doRequest(t, router, http.MethodPut, "/api/bookings/2/status", map[string]any{"status": "cancelled"}).Code)

	rec := doRequest(t, router, http.MethodGet, "/api/bookings?status=cancelled", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	bookings := decode[[]BookingDTO](t, rec)
	require.Len(t, bookings, 1)
	assert.Equal(t, int64(2), bookings[0].ID)

	rec = doRequest(t, router, http.MethodGet, "/api/bookings?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SCENARIO & INTEGRITY TESTS
// =============================================================================

func TestLoadScenario_WeekendPromo(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": ScenarioWeekendPromo})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/bookings", nil)
	bookings := decode[[]BookingDTO](t, rec)
	require.Len(t, bookings, 1)
	assert.Equal(t, int64(500000), bookings[0].GrandTotal)

	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, ScenarioWeekendPromo, decode[ScenarioDTO](t, rec).ID)

	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, router, http.MethodGet, "/api/products", nil)
	assert.Empty(t, decode[[]ProductDTO](t, rec))
}

func TestListScenarios(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := doRequest(t, router, http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))
}

func TestScenarios_AllLoad(t *testing.T) {
	h, _ := setupTestHandler(t)

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			require.NoError(t, h.loadScenario(context.Background(), s.ID))
			products, err := h.Store.ListProducts(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, products)
		})
	}
}

func TestIntegrity_RunAndList(t *testing.T) {
	_, router := setupCameraShop(t)
	require.Equal(t, http.StatusCreated, doRequest(t, router, http.MethodPost, "/api/bookings", kitBooking(1)).Code)

	rec := doRequest(t, router, http.MethodPost, "/api/integrity/run", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[IntegrityRunDTO](t, rec)
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 1, run.BookingsChecked)
	assert.NotEmpty(t, run.CompletedAt)

	rec = doRequest(t, router, http.MethodGet, "/api/integrity/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[map[string][]IntegrityRunDTO](t, rec)
	require.Len(t, listed["runs"], 1)
	assert.Equal(t, run.ID, listed["runs"][0].ID)
}
