package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"remember2.co/relay/internal/audit"
	"remember2.co/relay/internal/auth"
	"remember2.co/relay/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingBearer = errors.New("missing bearer token")

// authenticate resolves the request's bearer credential. On failure it has already written
// the response and returns false.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Caller, bool) {
	ctx := r.Context()
	raw, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		a.rejectCredential(w, r, "missing")
		return nil, false
	}

	caller, err := a.authn.Authenticate(ctx, raw)
	switch {
	case err == nil:
		_ = audit.LogEvent(auth.ContextWithCaller(ctx, caller), a.logger, audit.EventAuthSucceeded)
		return caller, true
	case errors.Is(err, auth.ErrInvalidToken):
		a.rejectCredential(w, r, auth.Reason(err))
		return nil, false
	default:
		a.logger.ErrorContext(ctx, "authentication failed", slog.Any("error", err))
		status, msg := statusFor(err)
		writeError(w, r, status, msg)
		return nil, false
	}
}

// rejectCredential answers 401 without revealing reason, which goes to metrics and audit only.
func (a *API) rejectCredential(w http.ResponseWriter, r *http.Request, reason string) {
	obs.ObserveAuthFailure(reason)
	_ = audit.LogEvent(r.Context(), a.logger, audit.EventAuthFailed, slog.String("reason", reason))
	unauthorized(w, r)
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, "invalid token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}
