package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type healthResponse struct {
	Status   string `json:"status"`
	Ledger   string `json:"ledger"`
	Channels int    `json:"channels"`
}

// Health reports ledger connectivity and the live channel count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Ledger: "disabled", Channels: h.channels.Count()}

	if h.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.Ping(ctx); err != nil {
			slog.Warn("Ledger health check failed", "error", err)
			resp.Status = "degraded"
			resp.Ledger = "unreachable"
			JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Ledger = "ok"
	}

	JSON(w, http.StatusOK, resp)
}
