//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/pairlab/internal/logbook"
	"github.com/ashureev/pairlab/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthTimeout = 5 * time.Second

// Handler provides common handler utilities.
type Handler struct {
	st       store.Store
	recorder *logbook.Recorder
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(st store.Store, recorder *logbook.Recorder) *Handler {
	return &Handler{st: st, recorder: recorder}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterHealth registers the readiness endpoint.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Healthz)
}

// Healthz reports store connectivity.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.st.Ping(ctx); err != nil {
		Error(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
