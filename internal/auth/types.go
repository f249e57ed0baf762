package auth

import (
	"log/slog"
	"time"
)

// Caller is a known principal: a human user or a service account such as the
// messaging provider itself. ExternalID is the identity-provider subject and is
// unique within a directory.
type Caller struct {
	ID         string
	ExternalID string
	Name       string
	Email      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LogValue keeps contact details out of log lines.
func (c Caller) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("external_id", c.ExternalID),
	)
}
