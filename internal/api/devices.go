package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grainwatch/granary-core/internal/device"
)

// handleListDevices returns all devices, with an optional status filter.
//
// Query parameters:
//   - status: filter by connectivity status (online, offline, maintenance)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := device.Status(statusStr)
		if !device.ValidStatus(status) {
			writeBadRequest(w, "unknown status filter: "+statusStr)
			return
		}
		devices, err := s.devices.ListByStatus(ctx, status)
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRequester(w, r); !ok {
		return
	}

	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.CreateDevice(r.Context(), &dev); err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice applies a partial update to a device. Fields absent
// from the body keep their current values.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRequester(w, r); !ok {
		return
	}

	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	if err := json.NewDecoder(r.Body).Decode(dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	dev.ID = id // path wins over body

	if err := s.devices.UpdateDevice(r.Context(), dev); err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device from the registry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRequester(w, r); !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.devices.DeleteDevice(r.Context(), id); err != nil {
		writeDeviceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetDeviceStatus sets the connectivity status of a device,
// typically to move it in and out of maintenance.
func (s *Server) handleSetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRequester(w, r); !ok {
		return
	}

	id := chi.URLParam(r, "id")

	var body struct {
		Status device.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.SetStatus(r.Context(), id, body.Status); err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": body.Status})
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}

// writeDeviceError maps device registry errors to HTTP responses.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, "device already exists")
	case errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidConfig),
		errors.Is(err, device.ErrInvalidStatus),
		errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, "device operation failed")
	}
}
