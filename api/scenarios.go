/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built catalogs that populate the database with realistic
	data for demos. Each scenario creates products with serialized units,
	bundles, promos and optionally a few bookings.

AVAILABLE SCENARIOS:

	camera-shop:    Camera bodies and lenses, a 2-body + 1-lens bundle
	weekend-promo:  Camping gear with a rent-3-pay-2 promo and a booked week

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create products and units
 3. Create bundles and promos (promos via the factory)
 4. Optionally book through the service, so figures are real

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "camera-shop"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to loadScenario

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and helpers
  - factory/promo.go: Promo JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	ScenarioCameraShop   = "camera-shop"
	ScenarioWeekendPromo = "weekend-promo"
)

var scenarios = []ScenarioDTO{
	{
		ID:          ScenarioCameraShop,
		Name:        "Camera Shop",
		Description: "5 camera bodies, 2 lenses and a kit of 2 bodies + 1 lens; 2 kits available",
	},
	{
		ID:          ScenarioWeekendPromo,
		Name:        "Weekend Promo",
		Description: "Camping gear with rent-3-pay-2 and a fixed discount; one tent booked for a week",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	h.currentScenario = ""

	var err error
	switch id {
	case ScenarioCameraShop:
		err = h.loadCameraShopScenario(ctx)
	case ScenarioWeekendPromo:
		err = h.loadWeekendPromoScenario(ctx)
	default:
		err = fmt.Errorf("unknown scenario %q", id)
	}
	if err != nil {
		return err
	}

	h.currentScenario = id
	h.log.Info("scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadCameraShopScenario(ctx context.Context) error {
	body, err := h.seedProduct(ctx, "Camera Body", 60000, "CAM", 5)
	if err != nil {
		return err
	}
	lens, err := h.seedProduct(ctx, "Zoom Lens", 40000, "LENS", 2)
	if err != nil {
		return err
	}

	kit := &inventory.Bundle{
		Name:  "Two-Camera Shoot Kit",
		Price: 150000,
		Components: []inventory.BundleComponent{
			{ProductID: body.ID, Quantity: 2},
			{ProductID: lens.ID, Quantity: 1},
		},
	}
	if err := h.Store.SaveBundle(ctx, kit); err != nil {
		return fmt.Errorf("failed to save bundle: %w", err)
	}

	return h.seedPromos(ctx,
		factory.PercentageOffJSON("SPRING20", 20),
		factory.NominalOffJSON("WELCOME25K", 25000),
	)
}

func (h *Handler) loadWeekendPromoScenario(ctx context.Context) error {
	tent, err := h.seedProduct(ctx, "Four-Person Tent", 100000, "TENT", 3)
	if err != nil {
		return err
	}
	if _, err := h.seedProduct(ctx, "Sleeping Bag", 25000, "BAG", 6); err != nil {
		return err
	}

	if err := h.seedPromos(ctx,
		factory.PayForDaysJSON("WEEKLY-3-FOR-2", 3, 2),
		factory.NominalOffJSON("WELCOME50K", 50000),
	); err != nil {
		return err
	}
	promos, err := h.Store.ListPromos(ctx)
	if err != nil {
		return err
	}
	var weekly *inventory.PromoID
	for _, p := range promos {
		if p.Code == "WEEKLY-3-FOR-2" {
			id := p.ID
			weekly = &id
		}
	}

	// Seven tent days at 100,000 with rent-3-pay-2 comes to 500,000.
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	_, err = h.Service.CreateBooking(ctx, booking.CreateBookingRequest{
		CustomerRef: "demo-weekend",
		Range:       inventory.MustDateRange(start, start.AddDate(0, 0, 6)),
		PromoID:     weekly,
		Items:       []booking.ItemRequest{{Target: inventory.ProductTarget(tent.ID), Quantity: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create demo booking: %w", err)
	}
	return nil
}

// seedProduct creates a product with n available units named prefix-1..n.
func (h *Handler) seedProduct(ctx context.Context, name string, price int64, prefix string, n int) (*inventory.Product, error) {
	p := &inventory.Product{Name: name, UnitPrice: price, Status: inventory.ProductActive}
	if err := h.Store.SaveProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save product %q: %w", name, err)
	}
	for i := 1; i <= n; i++ {
		u := &inventory.Unit{ProductID: p.ID, Serial: fmt.Sprintf("%s-%03d", prefix, i), Available: true}
		if err := h.Store.SaveUnit(ctx, u); err != nil {
			return nil, fmt.Errorf("failed to save unit: %w", err)
		}
	}
	return p, nil
}

func (h *Handler) seedPromos(ctx context.Context, defs ...string) error {
	for _, def := range defs {
		promo, err := h.PromoFactory.ParsePromo(def)
		if err != nil {
			return err
		}
		if err := h.Store.SavePromo(ctx, promo); err != nil {
			return fmt.Errorf("failed to save promo %q: %w", promo.Code, err)
		}
	}
	return nil
}
