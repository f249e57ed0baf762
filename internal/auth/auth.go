package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the verified JWT claims the relay relies on.
type Claims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves `{signed_jwt}:{email}` bearer credentials to a Caller.
type Authenticator struct {
	directory  Directory
	publicKey  *rsa.PublicKey
	issuer     string
	audience   string
	permission string
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator) error

// WithPublicKeyPEM sets the identity provider's RSA public key (PKIX or certificate PEM).
func WithPublicKeyPEM(pem string) Option {
	return func(a *Authenticator) error {
		pem = strings.TrimSpace(pem)
		if pem == "" {
			return errors.New("auth: public key is empty")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		a.publicKey = key
		return nil
	}
}

// WithPublicKey sets an already parsed verification key.
func WithPublicKey(key *rsa.PublicKey) Option {
	return func(a *Authenticator) error {
		a.publicKey = key
		return nil
	}
}

// WithIssuer sets the required iss claim.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) error {
		a.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience sets the audience that aud must contain.
func WithAudience(audience string) Option {
	return func(a *Authenticator) error {
		a.audience = strings.TrimSpace(audience)
		return nil
	}
}

// WithRequiredPermission overrides the permission claim demanded of every token.
func WithRequiredPermission(perm string) Option {
	return func(a *Authenticator) error {
		if perm = strings.TrimSpace(perm); perm != "" {
			a.permission = perm
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Authenticator) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// NewAuthenticator validates its configuration eagerly so a misconfigured key fails at startup.
func NewAuthenticator(dir Directory, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		directory:  dir,
		permission: PermChatAccess,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	switch {
	case dir == nil:
		return nil, errors.New("auth: directory is required")
	case a.publicKey == nil:
		return nil, errors.New("auth: public key is required")
	case a.issuer == "":
		return nil, errors.New("auth: issuer is required")
	case a.audience == "":
		return nil, errors.New("auth: audience is required")
	}
	a.logger = a.logger.With(slog.String("component", "auth"))
	return a, nil
}

// Authenticate verifies raw and returns the bound caller.
//
// Every credential problem is reported as an error satisfying errors.Is(err, ErrInvalidToken),
// joined with the specific reason. Directory outages are returned as-is (ErrDirectoryUnavailable)
// so they surface as a server failure rather than a rejected credential.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*Caller, error) {
	signed, email, err := splitCredential(raw)
	if err != nil {
		return nil, err
	}

	claims, err := a.verify(signed)
	if err != nil {
		return nil, err
	}

	caller, err := a.directory.Lookup(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrCallerNotFound), errors.Is(err, ErrInvalidInput):
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	case err != nil:
		return nil, err
	}

	if caller.Email != email {
		return nil, reject(ErrEmailMismatch)
	}
	return caller, nil
}

func (a *Authenticator) verify(signed string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	token, err := parser.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return a.publicKey, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, reject(ErrExpiredToken)
	case err != nil:
		a.logger.Debug("jwt verification failed", slog.Any("error", err))
		return nil, reject(ErrInvalidSignatureOrClaims)
	case !token.Valid:
		return nil, reject(ErrInvalidSignatureOrClaims)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, reject(ErrInvalidSignatureOrClaims)
	}
	if !slices.Contains(claims.Permissions, a.permission) {
		return nil, reject(ErrPermissionDenied)
	}
	return claims, nil
}

// splitCredential parses `{signed_jwt}:{email}`. Exactly one separator is accepted.
func splitCredential(raw string) (signed, email string, err error) {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ":") != 1 {
		return "", "", reject(ErrInvalidTokenFormat)
	}
	signed, email, _ = strings.Cut(raw, ":")
	if signed == "" || email == "" {
		return "", "", reject(ErrInvalidTokenFormat)
	}
	return signed, email, nil
}
