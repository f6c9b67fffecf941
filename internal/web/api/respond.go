package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"rip-sage/internal/graveyard"
)

// ErrorResponse represents error message
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, ErrorResponse{Error: message, Code: status}, status)
}

// statusFor maps a graveyard error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graveyard.ErrNotFound),
		errors.Is(err, graveyard.ErrMissingGraveyardFile):
		return http.StatusNotFound
	case errors.Is(err, graveyard.ErrDestinationOccupied):
		return http.StatusConflict
	case errors.Is(err, graveyard.ErrLockContention):
		return http.StatusServiceUnavailable
	case errors.Is(err, graveyard.ErrProtectedPath),
		errors.Is(err, graveyard.ErrInsideGraveyard),
		errors.Is(err, graveyard.ErrContainsGraveyard),
		errors.Is(err, graveyard.ErrOutsideGraveyard):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondGraveyardError reports err with its mapped status. Server side
// failures are logged.
func (s *Server) respondGraveyardError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("graveyard operation failed", "path", r.URL.Path, "error", err)
	}
	respondError(w, err.Error(), status)
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
