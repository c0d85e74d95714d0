package httpapi

import (
	"encoding/json"
	"net/http"

	"reconstructd/internal/engine"
	"reconstructd/internal/registry"
	"reconstructd/internal/supervisor"
	"reconstructd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeServiceError maps well-known lifecycle errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case registry.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case registry.IsAlreadyExists(err),
		supervisor.IsAlreadyRunning(err),
		supervisor.IsAlreadyProcessed(err),
		supervisor.IsNotRunning(err),
		supervisor.IsStillRunning(err),
		supervisor.IsNotReady(err):
		writeJSONError(w, http.StatusConflict, err.Error())
	case supervisor.IsBusy(err):
		IncrementBackpressure("pipelines")
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case engine.IsInvalidOptions(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		if he, ok := err.(HTTPError); ok {
			writeJSONError(w, he.StatusCode(), he.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
