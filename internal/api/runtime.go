package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/ashureev/overflowgpt/internal/identity"
	"github.com/ashureev/overflowgpt/internal/relay"
)

const maxRuntimeMessageSize = 64 << 10

// RuntimeMessage serves the one-shot request/response path. Only
// CHECK_ACCESS is answered here; questions and feedback need a channel.
func (h *Handler) RuntimeMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRuntimeMessageSize))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read body")
		return
	}

	env, err := domain.DecodeEnvelope(body, domain.Inbound)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrUnknownKey) || errors.Is(err, domain.ErrWrongDirection) {
			status = http.StatusUnprocessableEntity
		}
		Error(w, status, err.Error())
		return
	}
	if env.Key() != domain.KeyCheckAccess {
		Error(w, http.StatusUnprocessableEntity, string(env.Key())+" requires a channel")
		return
	}

	reply := relay.CheckAccess(r.Context(), h.creds)
	slog.Debug("Answered access check",
		"client_id", identity.ClientIDFromContext(r.Context()),
		"reply", reply.Key(),
	)
	JSON(w, http.StatusOK, reply)
}
