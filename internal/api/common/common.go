package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stacklok/recordsync/internal/sync/coordinator"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// StatusForError maps coordinator and sync errors to an HTTP status code
func StatusForError(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrRunnerActive):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrNotRunning):
		return http.StatusServiceUnavailable
	}

	switch syncerr.KindOf(err) {
	case syncerr.KindValidation:
		return http.StatusBadRequest
	case syncerr.KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
