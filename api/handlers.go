/*
handlers.go - HTTP API handlers for the rental engine

PURPOSE:
  Exposes the booking service and the catalog via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to booking.Service.
  No business rule lives here.

ENDPOINTS:
  Catalog:
    GET    /api/products                      List products
    POST   /api/products                      Create product (optionally with units)
    GET    /api/products/{id}                 Product with its units
    POST   /api/products/{id}/units           Add a unit
    GET    /api/bundles                       List bundles
    POST   /api/bundles                       Create bundle
    GET    /api/promos                        List promos
    POST   /api/promos                        Create promo from JSON

  Availability & pricing:
    GET    /api/availability                  ?type=&id=&start=&end=&exclude=
    POST   /api/quote                         Price items without booking them

  Bookings:
    GET    /api/bookings                      ?status=&limit=
    POST   /api/bookings                      Create booking
    GET    /api/bookings/{id}                 Booking with line items and breakdown
    PUT    /api/bookings/{id}/line-items      Create or update a line item
    DELETE /api/bookings/{id}/line-items/{lineItemID}
    PUT    /api/bookings/{id}/schedule        Move the booking to new dates
    PUT    /api/bookings/{id}/promo           Bind or clear the promo
    PUT    /api/bookings/{id}/add-ons         Replace add-ons
    POST   /api/bookings/{id}/pricing         Recompute pricing
    PUT    /api/bookings/{id}/down-payment    Set the down payment
    PUT    /api/bookings/{id}/status          Change status

  Admin:
    GET    /api/integrity/runs                Integrity sweep history
    POST   /api/integrity/run                 Run a sweep now
    GET    /api/scenarios                     List demo scenarios
    POST   /api/scenarios/load                Load a demo scenario
    POST   /api/scenarios/reset               Delete all data

ERROR HANDLING:
  Engine errors map to HTTP statuses in writeEngineError:
  - 400: Validation errors, invalid input
  - 404: Target, booking, line item or promo not found
  - 409: Insufficient inventory, allocation conflict, stale version
  - 422: Down payment outside its valid range
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/inventory"
	"github.com/warp/rental-engine/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        inventory.Backend
	Service      *booking.Service
	PromoFactory *factory.PromoFactory
	Integrity    *IntegrityScheduler

	log *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the store and the service built on it.
// The integrity scheduler is created but not started.
func NewHandler(store inventory.Backend, service *booking.Service) *Handler {
	return &Handler{
		Store:        store,
		Service:      service,
		PromoFactory: factory.NewPromoFactory(),
		Integrity:    NewIntegrityScheduler(service, store),
		log:          logger.WithComponent("api"),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct creates a product and, when requested, its units.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Units < 0 {
		writeError(w, http.StatusBadRequest, "units must not be negative", nil)
		return
	}

	p := &inventory.Product{
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Status:    inventory.ProductStatus(req.Status),
	}
	if p.Status == "" {
		p.Status = inventory.ProductActive
	}
	ctx := r.Context()
	if err := h.Store.SaveProduct(ctx, p); err != nil {
		h.writeEngineError(w, err)
		return
	}

	prefix := req.SerialPrefix
	if prefix == "" {
		prefix = strings.ToUpper(strings.ReplaceAll(p.Name, " ", "-"))
	}
	units := make([]inventory.Unit, 0, req.Units)
	for i := 1; i <= req.Units; i++ {
		u := &inventory.Unit{ProductID: p.ID, Serial: fmt.Sprintf("%s-%d", prefix, i), Available: true}
		if err := h.Store.SaveUnit(ctx, u); err != nil {
			h.writeEngineError(w, err)
			return
		}
		units = append(units, *u)
	}

	writeJSON(w, http.StatusCreated, toProductDTO(*p, units))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := h.Store.GetProduct(ctx, inventory.ProductID(id))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	units, err := h.Store.ListUnits(ctx, p.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dto := toProductDTO(*p, units)
	if dto.Units == nil {
		dto.Units = []UnitDTO{}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req CreateUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	p, err := h.Store.GetProduct(ctx, inventory.ProductID(id))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	u := &inventory.Unit{ProductID: p.ID, Serial: req.Serial, Available: true}
	if req.Available != nil {
		u.Available = *req.Available
	}
	if err := h.Store.SaveUnit(ctx, u); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(*u))
}

func (h *Handler) ListBundles(w http.ResponseWriter, r *http.Request) {
	bundles, err := h.Store.ListBundles(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]BundleDTO, len(bundles))
	for i, b := range bundles {
		dtos[i] = toBundleDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBundle rejects components that reference unknown products.
func (h *Handler) CreateBundle(w http.ResponseWriter, r *http.Request) {
	var req CreateBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	b := req.toBundle()
	for _, c := range b.Components {
		if _, err := h.Store.GetProduct(ctx, c.ProductID); err != nil {
			h.writeEngineError(w, err)
			return
		}
	}
	if err := h.Store.SaveBundle(ctx, &b); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBundleDTO(b))
}

func (h *Handler) ListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := h.Store.ListPromos(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]factory.PromoJSON, len(promos))
	for i, p := range promos {
		dtos[i] = h.PromoFactory.ToJSON(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePromo parses the promo through the factory and stores it.
func (h *Handler) CreatePromo(w http.ResponseWriter, r *http.Request) {
	var req factory.PromoJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = 0

	promo, err := h.PromoFactory.FromJSON(req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if err := h.Store.SavePromo(r.Context(), promo); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.PromoFactory.ToJSON(*promo))
}

// =============================================================================
// AVAILABILITY & QUOTES
// =============================================================================

// GetAvailability answers ?type=product|bundle&id=N&start=&end=[&exclude=1,2].
// Unknown ids report zero availability.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	id, err := strconv.ParseInt(q.Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id query parameter is required", err)
		return
	}
	target, err := inventory.ParseTarget(q.Get("type"), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	rng, err := parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	exclude, err := parseLineItemIDs(q.Get("exclude"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exclude parameter", err)
		return
	}

	avail, err := h.Service.Availability(r.Context(), target, rng, exclude)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(avail, rng))
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	quote, err := req.toQuote()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	breakdown, err := h.Service.Quote(r.Context(), quote)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	var filter inventory.BookingFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := inventory.ParseStatus(s)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		filter.Status = &status
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		filter.Limit = limit
	}

	bookings, err := h.Service.ListBookings(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	create, err := req.toCreate()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	view, err := h.Service.CreateBooking(r.Context(), create)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingViewDTO(view))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.Service.GetBooking(r.Context(), inventory.BookingID(id))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingViewDTO(view))
}

// PutLineItem creates the line item when line_item_id is omitted.
func (h *Handler) PutLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req LineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	edit := booking.LineItemRequest{
		BookingID:  inventory.BookingID(id),
		LineItemID: inventory.LineItemID(req.LineItemID),
		Target:     req.Target,
		Quantity:   req.Quantity,
	}
	if req.Start != "" || req.End != "" {
		rng, err := parseRange(req.Start, req.End)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		edit.Range = rng
	}

	result, err := h.Service.CreateOrUpdateLineItem(r.Context(), edit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if req.LineItemID == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, LineItemResponse{
		LineItem:        toLineItemDTO(result.LineItem),
		AssignedUnitIDs: unitIDs(result.AssignedUnitIDs),
		Breakdown:       result.Breakdown,
		Financials:      result.Financials,
	})
}

func (h *Handler) DeleteLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	lineItemID, ok := pathID(w, r, "lineItemID")
	if !ok {
		return
	}
	view, err := h.Service.RemoveLineItem(r.Context(), inventory.BookingID(id), inventory.LineItemID(lineItemID))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingViewDTO(view))
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rng, err := parseRange(req.Start, req.End)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	view, err := h.Service.RescheduleBooking(r.Context(), inventory.BookingID(id), rng)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingViewDTO(view))
}

// SetPromo clears the promo when promo_id is null.
func (h *Handler) SetPromo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req PromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	breakdown, err := h.Service.SetPromo(r.Context(), inventory.BookingID(id), promoID(req.PromoID))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (h *Handler) SetAddOns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req AddOnsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	breakdown, err := h.Service.SetAddOns(r.Context(), inventory.BookingID(id), req.AddOns)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (h *Handler) RecomputePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	breakdown, err := h.Service.RecomputePricing(r.Context(), inventory.BookingID(id))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// SetDownPayment validates the amount unless infer is set, in which case
// the status follows from whatever amount was entered.
func (h *Handler) SetDownPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req DownPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	set := h.Service.SetDownPayment
	if req.Infer {
		set = h.Service.EditDownPayment
	}
	result, err := set(r.Context(), inventory.BookingID(id), req.Amount)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DownPaymentResponse{
		Status:           string(result.Status),
		RemainingPayment: result.RemainingPayment,
	})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status, err := inventory.ParseStatus(req.Status)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	result, err := h.Service.SetStatus(r.Context(), inventory.BookingID(id), status)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		DownPayment:      result.DownPayment,
		RemainingPayment: result.RemainingPayment,
	})
}

// =============================================================================
// INTEGRITY
// =============================================================================

func (h *Handler) ListIntegrityRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListIntegrityRuns(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]IntegrityRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toIntegrityRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// RunIntegrity runs a sweep synchronously and returns its record.
func (h *Handler) RunIntegrity(w http.ResponseWriter, r *http.Request) {
	run, err := h.Integrity.RunNow(r.Context())
	if err != nil {
		h.log.Error("integrity sweep failed", "run_id", run.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Integrity sweep failed",
			"code":  "internal_error",
			"run":   toIntegrityRunDTO(run),
		})
		return
	}
	writeJSON(w, http.StatusOK, toIntegrityRunDTO(run))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "invalid_request"}
	if status >= http.StatusInternalServerError {
		resp.Code = "internal_error"
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to a status, a stable code and the
// structured context the error carries.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		writeJSON(w, status, ErrorResponse{Error: "Internal error", Code: code, Details: err.Error()})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code, Details: errorDetails(err)})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, inventory.ErrInsufficientInventory):
		return http.StatusConflict, "insufficient_inventory"
	case errors.Is(err, inventory.ErrConcurrentAllocationConflict):
		return http.StatusConflict, "allocation_conflict"
	case errors.Is(err, inventory.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, inventory.ErrInvalidDownPayment):
		return http.StatusUnprocessableEntity, "invalid_down_payment"
	case errors.Is(err, inventory.ErrAmountOverflow):
		return http.StatusUnprocessableEntity, "amount_overflow"
	case errors.Is(err, inventory.ErrTargetNotFound):
		return http.StatusNotFound, "target_not_found"
	case errors.Is(err, inventory.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found"
	case errors.Is(err, inventory.ErrLineItemNotFound):
		return http.StatusNotFound, "line_item_not_found"
	case errors.Is(err, inventory.ErrPromoNotFound):
		return http.StatusNotFound, "promo_not_found"
	case errors.Is(err, inventory.ErrInvalidDateRange):
		return http.StatusBadRequest, "invalid_date_range"
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, inventory.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, inventory.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_target"
	case errors.Is(err, inventory.ErrPromoInactive):
		return http.StatusBadRequest, "promo_inactive"
	case errors.Is(err, inventory.ErrInvalidPromo):
		return http.StatusBadRequest, "invalid_promo"
	case errors.Is(err, inventory.ErrLastLineItem):
		return http.StatusBadRequest, "last_line_item"
	case inventory.IsClientError(err):
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

// errorDetails exposes the fields of structured errors.
func errorDetails(err error) any {
	var (
		insufficient *inventory.InsufficientInventoryError
		conflict     *inventory.AllocationConflictError
		downPayment  *inventory.DownPaymentError
		dateRange    *inventory.DateRangeError
		notFound     *inventory.TargetNotFoundError
	)
	switch {
	case errors.As(err, &insufficient):
		details := map[string]any{
			"target":    insufficient.Target,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
			"shortfall": insufficient.Shortfall,
		}
		if insufficient.Bottleneck != nil {
			details["bottleneck_product_id"] = int64(*insufficient.Bottleneck)
			details["component_required"] = insufficient.ComponentRequired
			details["component_available"] = insufficient.ComponentAvailable
		}
		return details
	case errors.As(err, &conflict):
		return map[string]any{"unit_id": int64(conflict.UnitID), "held_by": int64(conflict.HeldBy)}
	case errors.As(err, &downPayment):
		return map[string]any{"amount": downPayment.Amount, "min": downPayment.Min, "max": downPayment.Max}
	case errors.As(err, &dateRange):
		return map[string]any{"start": formatTime(dateRange.Start), "end": formatTime(dateRange.End)}
	case errors.As(err, &notFound):
		return map[string]any{"target": notFound.Target}
	}
	return nil
}

// pathID parses a numeric URL parameter, writing a 400 when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s %q", name, raw), err)
		return 0, false
	}
	return id, true
}

func parseLineItemIDs(raw string) ([]inventory.LineItemID, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []inventory.LineItemID
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, inventory.LineItemID(id))
	}
	return ids, nil
}
