package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/telemetry"
)

// defaultHistoryLimit bounds history queries that omit a limit.
const defaultHistoryLimit = 100

// handleSubmitTelemetry ingests a sensor reading.
//
// The reading is validated, evaluated against the safety ceilings,
// persisted, and may trigger auto-control commands and alerts. The
// response carries the derived status and any alerts raised.
func (s *Server) handleSubmitTelemetry(w http.ResponseWriter, r *http.Request) {
	var reading telemetry.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.telemetry.SubmitTelemetry(r.Context(), reading)
	if err != nil {
		switch {
		case errors.Is(err, telemetry.ErrInvalidReading):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		default:
			s.logger.Error("telemetry ingest failed", "device_id", reading.DeviceID, "error", err)
			writeInternalError(w, "failed to store reading")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleDeviceReadings returns historical readings for a device.
//
// Query parameters:
//   - since: RFC 3339 timestamp; readings at or after this instant
//   - limit: maximum rows returned (default 100)
func (s *Server) handleDeviceReadings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	since, limit, err := parseHistoryQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	readings, err := s.telemetry.History(r.Context(), id, since, limit)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to list readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// handleDeviceLatestReading returns the most recent reading for a device.
func (s *Server) handleDeviceLatestReading(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reading, err := s.telemetry.Latest(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, telemetry.ErrReadingNotFound):
			writeNotFound(w, "no readings recorded for device")
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		default:
			writeInternalError(w, "failed to fetch reading")
		}
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// parseHistoryQuery extracts the since/limit query parameters shared by
// the reading and command history endpoints.
func parseHistoryQuery(r *http.Request) (time.Time, int, error) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, 0, errors.New("since must be an RFC 3339 timestamp")
		}
		since = parsed
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return time.Time{}, 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}

	return since, limit, nil
}
