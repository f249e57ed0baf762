package auth

import (
	"context"
	"fmt"
	"strings"
)

// Directory maps an external identity to a Caller. Implementations are read-only.
//
// Lookup returns ErrCallerNotFound when nothing matches and also when the store holds
// more than one record for the id (that error additionally wraps ErrDuplicateCaller).
// Store failures wrap ErrDirectoryUnavailable.
type Directory interface {
	Lookup(ctx context.Context, externalID string) (*Caller, error)
}

// Pinger is implemented by directories backed by a remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryDirectory serves a fixed caller list. Used for development and tests.
type MemoryDirectory struct {
	callers []Caller
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory copies callers into a new directory. Duplicated external ids are
// kept so that lookups fail closed the same way the persistent stores do.
func NewMemoryDirectory(callers ...Caller) *MemoryDirectory {
	cp := make([]Caller, len(callers))
	copy(cp, callers)
	return &MemoryDirectory{callers: cp}
}

func (d *MemoryDirectory) Lookup(_ context.Context, externalID string) (*Caller, error) {
	externalID, err := normalizeExternalID(externalID)
	if err != nil {
		return nil, err
	}
	var matches []Caller
	for _, c := range d.callers {
		if c.ExternalID == externalID {
			matches = append(matches, c)
		}
	}
	return single(externalID, matches)
}

func normalizeExternalID(externalID string) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}
	return externalID, nil
}

// single picks the only match or fails closed.
func single(externalID string, matches []Caller) (*Caller, error) {
	switch len(matches) {
	case 0:
		return nil, ErrCallerNotFound
	case 1:
		c := matches[0]
		return &c, nil
	default:
		return nil, fmt.Errorf("%w: %w: external id %q has %d records",
			ErrCallerNotFound, ErrDuplicateCaller, externalID, len(matches))
	}
}
