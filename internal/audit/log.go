package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"remember2.co/relay/internal/auth"
)

// Event names.
const (
	EventAuthSucceeded     = "auth.succeeded"
	EventAuthFailed        = "auth.failed"
	EventHandshakeAccepted = "webhook.handshake.accepted"
	EventHandshakeRejected = "webhook.handshake.rejected"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit record enriched with the request id and authenticated caller.
// Fields must never carry credentials.
func LogEvent(ctx context.Context, logger *slog.Logger, event string, fields ...slog.Attr) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if caller, ok := auth.CallerFromContext(ctx); ok {
		attrs = append(attrs, slog.String("caller_id", caller.ID))
	}
	attrs = append(attrs, slog.Attr{Key: "fields", Value: slog.GroupValue(fields...)})
	logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
