package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/grainwatch/granary-core/internal/control"
)

// handleEmergencyShutdown triggers the emergency shutdown sequence across
// online devices, optionally scoped to one location. The body is optional;
// an empty body shuts down everything.
func (s *Server) handleEmergencyShutdown(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}

	if s.emergency == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "emergency dispatcher not available")
		return
	}

	var scope control.Scope
	if err := json.NewDecoder(r.Body).Decode(&scope); err != nil && err != io.EOF {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	s.logger.Warn("emergency shutdown requested",
		"requester", requester,
		"location", scope.Location,
	)

	result, err := s.emergency.Shutdown(r.Context(), scope, requester)
	if err != nil {
		writeInternalError(w, "emergency shutdown failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
