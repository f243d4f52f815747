package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/overflowgpt/internal/domain"
)

const defaultSessionsLimit = 50

// RecentSessions lists the newest finished sessions from the ledger.
func (h *Handler) RecentSessions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "ledger disabled")
		return
	}

	limit := defaultSessionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.repo.RecentSessions(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if records == nil {
		records = []*domain.SessionRecord{}
	}

	JSON(w, http.StatusOK, map[string]any{"sessions": records})
}
