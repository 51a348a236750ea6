/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/products/*       Products and units
  /api/bundles/*        Bundles
  /api/promos/*         Promotions
  /api/availability     Free units for a target and range
  /api/quote            Stateless pricing
  /api/bookings/*       Bookings, line items, payments
  /api/integrity/*      Integrity sweeps
  /api/scenarios/*      Demo scenarios
  /                     Endpoint index

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Post("/{id}/units", h.CreateUnit)
		})

		r.Route("/bundles", func(r chi.Router) {
			r.Get("/", h.ListBundles)
			r.Post("/", h.CreateBundle)
		})

		r.Route("/promos", func(r chi.Router) {
			r.Get("/", h.ListPromos)
			r.Post("/", h.CreatePromo)
		})

		r.Get("/availability", h.GetAvailability)
		r.Post("/quote", h.Quote)

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBooking)
				r.Put("/line-items", h.PutLineItem)
				r.Delete("/line-items/{lineItemID}", h.DeleteLineItem)
				r.Put("/schedule", h.RescheduleBooking)
				r.Put("/promo", h.SetPromo)
				r.Put("/add-ons", h.SetAddOns)
				r.Post("/pricing", h.RecomputePricing)
				r.Put("/down-payment", h.SetDownPayment)
				r.Put("/status", h.SetStatus)
			})
		})

		r.Route("/integrity", func(r chi.Router) {
			r.Get("/runs", h.ListIntegrityRuns)
			r.Post("/run", h.RunIntegrity)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexPage))
	})

	return r
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Rental Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Rental Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/products">/api/products</a> - List products</li>
<li><a href="/api/bundles">/api/bundles</a> - List bundles</li>
<li><a href="/api/promos">/api/promos</a> - List promos</li>
<li><a href="/api/bookings">/api/bookings</a> - List bookings</li>
<li><a href="/api/integrity/runs">/api/integrity/runs</a> - Integrity sweeps</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
</ul>
</body>
</html>`
