/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the kiosk frontend

ROUTE GROUPS:
  /api/queue/*      Queue entries
  /api/washes/*     Wash lifecycle
  /api/bays/*       Bay status and activity log
  /api/branches/*   Branch reads, bay list, queue snapshot
  /api/customers/*  Loyalty account surface
  /api/admin/*      Manual adjustments and entity creation
  /metrics          Prometheus scrape endpoint
  /health           Liveness probe

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. The
// gatherer backs the /metrics endpoint; pass prometheus.DefaultGatherer
// unless tests need isolation.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/queue/entries", func(r chi.Router) {
			r.Post("/", h.JoinQueue)
			r.Get("/{id}", h.GetQueueEntry)
			r.Post("/{id}/cancel", h.CancelQueueEntry)
			r.Get("/{id}/position", h.QueuePosition)
		})

		r.Route("/washes", func(r chi.Router) {
			r.Post("/", h.StartWash)
			r.Post("/direct", h.StartDirectWash)
			r.Get("/{id}", h.GetWash)
			r.Post("/{id}/complete", h.CompleteWash)
			r.Post("/{id}/cancel", h.CancelWash)
		})

		r.Route("/bays", func(r chi.Router) {
			r.Post("/", h.CreateBay)
			r.Put("/{id}/status", h.SetBayStatus)
			r.Get("/{id}/activity", h.BayActivity)
		})

		r.Route("/branches", func(r chi.Router) {
			r.Get("/", h.ListBranches)
			r.Post("/", h.CreateBranch)
			r.Get("/{id}", h.GetBranch)
			r.Get("/{id}/bays", h.ListBays)
			r.Get("/{id}/queue", h.QueueStatus)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.CreateCustomer)
			r.Route("/{id}/loyalty", func(r chi.Router) {
				r.Get("/", h.LoyaltyAccount)
				r.Get("/progress", h.TierProgress)
				r.Get("/history", h.LoyaltyHistory)
				r.Get("/reconcile", h.ReconcileLoyalty)
				r.Post("/redeem", h.RedeemPoints)
			})
		})

		r.Route("/packages", func(r chi.Router) {
			r.Post("/", h.CreatePackage)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/loyalty/adjust", h.AdjustPoints)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
