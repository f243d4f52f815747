// Package api provides HTTP handlers for the relay server.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/overflowgpt/internal/relay"
	"github.com/ashureev/overflowgpt/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChannelCounter reports the number of live page channels.
type ChannelCounter interface {
	Count() int
}

// Handler serves the non-channel HTTP surface.
type Handler struct {
	repo     store.Repository
	channels ChannelCounter
	creds    relay.Credentials
}

// NewHandler creates a Handler. repo is nil when the ledger is disabled.
func NewHandler(repo store.Repository, channels ChannelCounter, creds relay.Credentials) *Handler {
	return &Handler{
		repo:     repo,
		channels: channels,
		creds:    creds,
	}
}

// RegisterRoutes registers the HTTP routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.RecentSessions)
		r.Post("/runtime/message", h.RuntimeMessage)
	})
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
