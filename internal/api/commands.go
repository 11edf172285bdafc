package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/device"
)

// handleEnqueueCommand queues an actuator command for a device.
//
// The issuer is always the authenticated caller; any issuer in the
// request body is ignored so the audit trail cannot be forged.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}

	var req command.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Issuer = requester

	cmd, err := s.commands.Enqueue(r.Context(), req)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, cmd)
}

// handleEnqueueBatch queues several commands in one call. Individual
// failures do not abort the batch; each item reports its own outcome.
func (s *Server) handleEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}

	var body struct {
		Commands []command.Request `json:"commands"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body.Commands) == 0 {
		writeBadRequest(w, "commands list is empty")
		return
	}
	for i := range body.Commands {
		body.Commands[i].Issuer = requester
	}

	items := s.commands.EnqueueBatch(r.Context(), body.Commands)

	queued := 0
	for _, item := range items {
		if item.Command != nil {
			queued++
		}
	}

	status := http.StatusCreated
	if queued == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"items":  items,
		"queued": queued,
		"failed": len(items) - queued,
	})
}

// handleGetCommand returns a single command by ID.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cmd, err := s.commands.Get(r.Context(), id)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}

// handleCancelCommand cancels a pending command.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.commands.Cancel(r.Context(), id, requester); err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": command.StatusCancelled})
}

// handleRetryCommand re-queues a failed command that has retry budget left.
func (s *Server) handleRetryCommand(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.commands.Retry(r.Context(), id, requester); err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": command.StatusPending})
}

// handleListPendingCommands returns pending commands in claim order.
//
// Query parameters:
//   - device_id: restrict to one device (optional)
func (s *Server) handleListPendingCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	commands, err := s.commands.ListPending(r.Context(), deviceID)
	if err != nil {
		writeInternalError(w, "failed to list pending commands")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// handleCommandHistory returns resolved and cancelled commands, newest first.
//
// Query parameters:
//   - device_id: restrict to one device (optional)
//   - since: RFC 3339 timestamp (optional)
//   - limit: maximum rows returned (default 100)
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	since, limit, err := parseHistoryQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	commands, err := s.commands.ListHistory(r.Context(), deviceID, since, limit)
	if err != nil {
		writeInternalError(w, "failed to list command history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// writeCommandError maps command service errors to HTTP responses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, command.ErrCommandNotFound):
		writeNotFound(w, "command not found")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, command.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, command.ErrRetryExhausted):
		writeConflict(w, "command has exhausted its retry budget")
	case errors.Is(err, command.ErrInvalidTransition):
		writeConflict(w, "command is not in a state that allows this operation")
	default:
		writeInternalError(w, "command operation failed")
	}
}
