package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.identityMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no identity required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Telemetry ingest. Sensors authenticate at the broker or gateway,
		// not here; the reading carries its own device identity.
		r.Post("/telemetry", s.handleSubmitTelemetry)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Put("/status", s.handleSetDeviceStatus)
				r.Get("/readings", s.handleDeviceReadings)
				r.Get("/readings/latest", s.handleDeviceLatestReading)
			})
		})

		// Command endpoints
		r.Route("/commands", func(r chi.Router) {
			r.Post("/", s.handleEnqueueCommand)
			r.Post("/batch", s.handleEnqueueBatch)
			r.Get("/pending", s.handleListPendingCommands)
			r.Get("/history", s.handleCommandHistory)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCommand)
				r.Post("/cancel", s.handleCancelCommand)
				r.Post("/retry", s.handleRetryCommand)
			})
		})

		// Emergency shutdown
		r.Post("/emergency-shutdown", s.handleEmergencyShutdown)

		// WebSocket event stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
