// Package webhook validates the provider's subscription handshake.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"remember2.co/relay/internal/auth"
)

// ModeSubscribe is the only handshake mode the relay accepts.
const ModeSubscribe = "subscribe"

var (
	ErrHandshakeRejected = errors.New("webhook: handshake rejected")
	ErrNoChecker         = errors.New("webhook: token checker is required")
)

// Handshake is the provider's subscription verification request.
type Handshake struct {
	Mode        string
	VerifyToken string
	Challenge   string
}

// TokenChecker decides whether a verify token is acceptable. A false result with a nil error
// is a rejection; a non-nil error is an infrastructure failure.
type TokenChecker interface {
	Check(ctx context.Context, token string) (bool, error)
}

// Verifier validates subscription handshakes.
type Verifier struct {
	checker TokenChecker
	logger  *slog.Logger
}

func NewVerifier(checker TokenChecker, logger *slog.Logger) (*Verifier, error) {
	if checker == nil {
		return nil, ErrNoChecker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{checker: checker, logger: logger.With(slog.String("component", "webhook"))}, nil
}

// Verify returns the challenge unchanged when the handshake is accepted.
func (v *Verifier) Verify(ctx context.Context, h Handshake) (string, error) {
	if h.Mode != ModeSubscribe {
		return "", fmt.Errorf("%w: unexpected mode %q", ErrHandshakeRejected, h.Mode)
	}
	if h.VerifyToken == "" || h.Challenge == "" {
		return "", fmt.Errorf("%w: missing verify token or challenge", ErrHandshakeRejected)
	}
	ok, err := v.checker.Check(ctx, h.VerifyToken)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: verify token not accepted", ErrHandshakeRejected)
	}
	v.logger.DebugContext(ctx, "handshake accepted")
	return h.Challenge, nil
}

// SecretChecker compares the token with a shared secret. Secrets in bcrypt form are
// checked with bcrypt, anything else in constant time.
type SecretChecker struct {
	secret []byte
	hashed bool
}

func NewSecretChecker(secret string) (*SecretChecker, error) {
	if secret == "" {
		return nil, errors.New("webhook: verify secret is required")
	}
	return &SecretChecker{secret: []byte(secret), hashed: isBcryptHash(secret)}, nil
}

func (c *SecretChecker) Check(_ context.Context, token string) (bool, error) {
	if c.hashed {
		err := bcrypt.CompareHashAndPassword(c.secret, []byte(token))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("webhook: compare secret: %w", err)
		}
	}
	return subtle.ConstantTimeCompare(c.secret, []byte(token)) == 1, nil
}

func isBcryptHash(s string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// DirectoryChecker accepts any token that names a known caller.
type DirectoryChecker struct {
	directory auth.Directory
}

func NewDirectoryChecker(dir auth.Directory) *DirectoryChecker {
	return &DirectoryChecker{directory: dir}
}

func (c *DirectoryChecker) Check(ctx context.Context, token string) (bool, error) {
	_, err := c.directory.Lookup(ctx, token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, auth.ErrCallerNotFound), errors.Is(err, auth.ErrInvalidInput):
		return false, nil
	default:
		return false, err
	}
}
