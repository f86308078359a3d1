package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)
		r.Get("/discovery", s.handleListKnownDevices)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/diagnostics", s.handleGetDiagnostics)
				r.Get("/history", s.handleGetDeviceHistory)
				r.Post("/identify", s.handleIdentify)
				r.Post("/refresh", s.handleRefresh)
			})
		})
	})

	return r
}

// handleHealth returns the bridge health. The HTTP status stays 200 while
// the process runs; the body carries the degraded/healthy verdict.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  m.Status,
		"version": s.version,
		"bridge":  m,
	})
}
