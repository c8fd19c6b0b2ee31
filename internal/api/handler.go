// Package api provides HTTP handlers for the quest API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/dayquest/internal/progress"
	"github.com/ashureev/dayquest/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	svc *progress.Service
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc *progress.Service) *Handler {
	return &Handler{svc: svc}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// serviceError maps a service error to an HTTP response.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrStoreUnavailable):
		Error(w, http.StatusServiceUnavailable, "store unavailable, try again")
	case errors.Is(err, progress.ErrInvalidUser):
		Error(w, http.StatusUnauthorized, "unauthorized")
	default:
		Error(w, http.StatusBadRequest, err.Error())
	}
}
