package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jfgonzales/fred/internal/checkpoint"
	"github.com/jfgonzales/fred/internal/docstore"
	"github.com/jfgonzales/fred/internal/engine"
	"github.com/jfgonzales/fred/internal/ingest"
)

// writeJSON writes a JSON response with the given status code.
// If encoding fails after WriteHeader, the status is already on the wire;
// the error is logged and the response left as-is.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// statusForError maps the service's error taxonomy to HTTP status codes.
//
//	invalid input / ingestion  → 400 (caller's fault)
//	unknown thread             → 404
//	dependency timeout         → 504 (engine-mapped or a raw deadline,
//	                                  e.g. the ingestion embed timeout)
//	routing / store / persist  → 502 (upstream dependency failed)
//	anything else              → 500
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ingest.ErrIngestion):
		return http.StatusBadRequest, "ingestion_failed"
	case errors.Is(err, engine.ErrUnknownThread):
		return http.StatusNotFound, "unknown_thread"
	case errors.Is(err, engine.ErrDependencyTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "dependency_timeout"
	case errors.Is(err, engine.ErrRouting):
		return http.StatusBadGateway, "routing_failed"
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusBadGateway, "store_unavailable"
	case errors.Is(err, checkpoint.ErrPersistence):
		return http.StatusBadGateway, "persistence_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError maps err through the taxonomy and writes the response.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	message := ""
	// Client errors carry their detail; server-side failures stay opaque.
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	writeError(w, status, code, message)
}
