/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request count and latency per route pattern
  5. CORS:       Cross-origin requests for the back-office frontend
  6. Timeout:    Every request runs under the configured deadline

ROUTE GROUPS:
  /api/employees/*      Directory and salary period totals
  /api/events/*         Work event capture and edits
  /api/shifts/*         Shift review, approval and manual hours
  /api/exports/*        Payroll exports
  /api/holidays/*       Company holiday calendar
  /api/changes          Change log
  /api/inbound/*        Inbound bus messages over HTTP
  /api/admin/*          Maintenance sweeps
  /metrics              Prometheus
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. The creator recorded in the change log is
  taken from X-User-ID as sent by the gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/worktime-engine/metrics"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderChangeSetID},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}/attributes", h.SetAttributes)
			r.Get("/{id}/period", h.GetPeriod)
		})

		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.CreateEvent)
			r.Patch("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
		})

		// Shift routes
		r.Route("/shifts", func(r chi.Router) {
			r.Get("/", h.ListShifts)
			r.Get("/{id}", h.GetShift)
			r.Patch("/{id}", h.UpdateShift)
			r.Put("/{id}/hours/{workType}", h.SetHours)
		})

		// Export routes
		r.Route("/exports", func(r chi.Router) {
			r.Get("/", h.ListExports)
			r.Post("/", h.CreateExport)
			r.Get("/{id}", h.GetExport)
			r.Delete("/{id}", h.DeleteExport)
		})

		// Holiday routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
			r.Delete("/{id}", h.DeleteHoliday)
		})

		r.Get("/changes", h.ListChanges)
		r.Post("/inbound/{topic}", h.PublishEvent)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs", h.ListJobs)
			r.Post("/sweeps/{job}", h.RunSweep)
		})
	})

	return r
}
