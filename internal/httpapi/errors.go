package httpapi

import (
	"errors"
	"net/http"

	"remember2.co/relay/internal/auth"
	"remember2.co/relay/internal/inference"
	"remember2.co/relay/internal/messaging"
	"remember2.co/relay/internal/webhook"
)

// statusFor maps a domain error to the HTTP status and the client-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, webhook.ErrHandshakeRejected):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, inference.ErrEmptyPrompt):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, auth.ErrDirectoryUnavailable),
		errors.Is(err, inference.ErrInferenceUnavailable):
		return http.StatusServiceUnavailable, "upstream unavailable"
	case errors.Is(err, messaging.ErrReplyFailed):
		return http.StatusBadGateway, "upstream unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
