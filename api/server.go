/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address behind a proxy
  3. Logging:    One slog line per request (status, bytes, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/requests/*       Approval workflow
  /api/employees/*      Balances, overview, entitlement overrides
  /api/leave-types/*    Catalog
  /api/maternity/*      Deferred end dates
  /api/history/*        Archive and back-fill
  /api/admin/*          Year close
  /api/reports/*        Dashboard and export
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultOrigins are allowed when no CORS origins are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins ...string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.Get("/{id}/history", h.GetRequestHistory)
			r.Post("/{id}/decisions", h.DecideRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/overview", h.GetOverview)
			r.Put("/{id}/entitlements/{type}", h.SetEntitlement)
		})

		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.Post("/", h.CreateLeaveType)
			r.Put("/{code}", h.UpdateLeaveType)
		})

		r.Route("/maternity", func(r chi.Router) {
			r.Get("/pending", h.ListPendingEndDates)
			r.Post("/{id}/end-date", h.SetEndDate)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/years", h.ListHistoryYears)
			r.Get("/years/{year}", h.GetHistoryYear)
			r.Get("/employees/{id}", h.GetEmployeeHistory)
			r.Put("/employees/{id}/years/{year}", h.UpsertBackfill)
			r.Delete("/employees/{id}/years/{year}", h.DeleteBackfill)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/close-year", h.CloseYear)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/dashboard", h.Dashboard)
			r.Get("/export", h.Export)
		})
	})

	return r
}

// RequestLogger logs each request once it has been served.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				level := slog.LevelInfo
				if ww.Status() >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"remote", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
