package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("auth: invalid input")
	ErrCallerNotFound       = errors.New("auth: caller not found")
	ErrDuplicateCaller      = errors.New("auth: duplicate caller records")
	ErrDirectoryUnavailable = errors.New("auth: directory unavailable")
)

// ErrInvalidToken is the single error every bearer rejection satisfies. Callers at
// the HTTP boundary must not distinguish further.
var ErrInvalidToken = errors.New("invalid token")

// Bearer rejection reasons. Each is reported joined with ErrInvalidToken.
var (
	ErrInvalidTokenFormat       = errors.New("auth: invalid token format")
	ErrExpiredToken             = errors.New("auth: token expired")
	ErrInvalidSignatureOrClaims = errors.New("auth: invalid signature or claims")
	ErrPermissionDenied         = errors.New("auth: permission denied")
	ErrEmailMismatch            = errors.New("auth: email mismatch")
)

func reject(reason error) error {
	return fmt.Errorf("%w: %w", ErrInvalidToken, reason)
}

// Reason returns a short, stable label for a bearer rejection, suitable for metrics and
// audit records. It returns "" for errors that are not rejections.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTokenFormat):
		return "format"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrInvalidSignatureOrClaims):
		return "signature_or_claims"
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	case errors.Is(err, ErrEmailMismatch):
		return "email_mismatch"
	case errors.Is(err, ErrDuplicateCaller):
		return "duplicate_caller"
	case errors.Is(err, ErrCallerNotFound):
		return "caller_not_found"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	}
	return ""
}
