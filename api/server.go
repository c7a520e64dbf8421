/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: zerolog access log, request-scoped logger in context
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the booking frontends

ROUTE GROUPS:
  /api/sessions/*       Session templates and availability
  /api/reservations/*   Capacity holds
  /api/bookings/*       Confirmed visits
  /api/prisoners/*      Classification data
  /api/migration/*      Legacy visit import
  /api/scenarios/*      Demo data
  /api/admin/*          Background jobs
  /healthz              Liveness

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
	"github.com/warp/visit-scheduler/logging"
)

// DefaultOrigins are allowed when no CORS origins are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Get("/available", h.AvailableSessions)
			r.Get("/{ref}", h.GetSession)
			r.Patch("/{ref}", h.UpdateSession)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.Reserve)
			r.Get("/{ref}", h.GetReservation)
			r.Put("/{ref}", h.ChangeReservation)
			r.Post("/{ref}/complete", h.CompleteReservation)
			r.Delete("/{ref}", h.Cancel)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Get("/{ref}", h.GetBooking)
			r.Post("/{ref}/change", h.ChangeBooking)
			r.Delete("/{ref}", h.Cancel)
		})

		r.Route("/prisoners", func(r chi.Router) {
			r.Get("/{id}", h.GetPrisoner)
			r.Put("/{id}", h.SavePrisoner)
		})

		r.Route("/migration", func(r chi.Router) {
			r.Post("/visits", h.MigrateVisit)
			r.Post("/match", h.MatchVisit)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs", h.ListJobRuns)
			r.Post("/jobs/{task}/run", h.RunJob)
		})
	})

	return r
}
