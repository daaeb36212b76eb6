package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/pairlab/internal/relay"
	"github.com/go-chi/chi/v5"
)

// RelayHandler proxies completion requests to the upstream relay service.
// It is only registered when a relay address is configured.
type RelayHandler struct {
	*Handler
	client *relay.Client
}

// NewRelayHandler creates a RelayHandler backed by the given client.
func NewRelayHandler(base *Handler, client *relay.Client) *RelayHandler {
	return &RelayHandler{Handler: base, client: client}
}

// RegisterRoutes registers relay routes.
func (h *RelayHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/relay/complete", h.Complete)
}

type completeRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// Complete forwards a prompt to the relay and returns the completion.
func (h *RelayHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}

	content, err := h.client.Complete(r.Context(), req.Prompt, req.Model)
	if err != nil {
		slog.Error("Relay completion failed", "error", err)
		Error(w, http.StatusBadGateway, "completion failed")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"content": content})
}
