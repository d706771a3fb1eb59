package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"roadscan/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Success: false, Error: msg})
}

func statusFor(err error) int {
	switch domain.Kind(err) {
	case domain.ErrInvalidInput, domain.ErrInvalidImage:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrModelFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail maps err to a status and a structured body. Client faults are logged
// at debug level only.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
		if domain.Kind(err) == nil {
			msg = "internal server error"
		}
	default:
		s.log.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		msg = "Not found"
	}
	respondError(w, status, msg)
}
