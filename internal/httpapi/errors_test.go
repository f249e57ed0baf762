package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"remember2.co/relay/internal/auth"
	"remember2.co/relay/internal/inference"
	"remember2.co/relay/internal/messaging"
	"remember2.co/relay/internal/webhook"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: %w", auth.ErrInvalidToken, auth.ErrExpiredToken), http.StatusUnauthorized},
		{fmt.Errorf("%w: %w", auth.ErrInvalidToken, auth.ErrPermissionDenied), http.StatusUnauthorized},
		{fmt.Errorf("%w: mode", webhook.ErrHandshakeRejected), http.StatusForbidden},
		{fmt.Errorf("%w: dial", auth.ErrDirectoryUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: timeout", inference.ErrInferenceUnavailable), http.StatusServiceUnavailable},
		{inference.ErrEmptyPrompt, http.StatusBadRequest},
		{fmt.Errorf("%w: status 400", messaging.ErrReplyFailed), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if code, _ := statusFor(tc.err); code != tc.code {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, code, tc.code)
		}
	}
}
