package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"remember2.co/relay/internal/audit"
	"remember2.co/relay/internal/obs"
	"remember2.co/relay/internal/webhook"
)

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.webhookHandshake(w, r)
	case http.MethodPost:
		a.webhookDelivery(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) webhookHandshake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	challenge, err := a.relay.Handshake(ctx, r.URL.Query())
	if err != nil {
		status, msg := statusFor(err)
		if errors.Is(err, webhook.ErrHandshakeRejected) {
			obs.ObserveAuthFailure("handshake")
			_ = audit.LogEvent(ctx, a.logger, audit.EventHandshakeRejected,
				slog.String("mode", r.URL.Query().Get("hub.mode")))
		} else {
			a.logger.ErrorContext(ctx, "webhook handshake failed", slog.Any("error", err))
		}
		writeError(w, r, status, msg)
		return
	}
	_ = audit.LogEvent(ctx, a.logger, audit.EventHandshakeAccepted)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (a *API) webhookDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, badBodyMessage(err))
		return
	}
	a.logger.DebugContext(ctx, "webhook delivery", slog.String("payload", obs.Truncate(string(payload), 2048)))

	status, err := a.relay.HandleInbound(ctx, payload)
	if err != nil {
		a.logger.ErrorContext(ctx, "webhook delivery failed", slog.Any("error", err))
		writeError(w, r, http.StatusBadGateway, "upstream unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
