package auth

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// lookupCallerSQL fetches at most two rows: one is a hit, two is an integrity violation.
const lookupCallerSQL = `select caller_id, idp_id, name, email, first_created, last_updated
	from callers where idp_id = $1 limit 2`

// PGDirectory implements Directory on PostgreSQL.
type PGDirectory struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ Directory = (*PGDirectory)(nil)
	_ Pinger    = (*PGDirectory)(nil)
)

// OpenPG opens a pgx-backed pool for dsn.
func OpenPG(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func NewPGDirectory(db *sql.DB, logger *slog.Logger) *PGDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGDirectory{db: db, logger: logger.With(slog.String("component", "directory.postgres"))}
}

func (d *PGDirectory) Lookup(ctx context.Context, externalID string) (*Caller, error) {
	externalID, err := normalizeExternalID(externalID)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, lookupCallerSQL, externalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	defer rows.Close()

	var matches []Caller
	for rows.Next() {
		var (
			c  Caller
			id uuid.UUID
		)
		if err := rows.Scan(&id, &c.ExternalID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan caller: %w", ErrDirectoryUnavailable, err)
		}
		c.ID = id.String()
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	caller, err := single(externalID, matches)
	if err != nil && len(matches) > 1 {
		d.logger.ErrorContext(ctx, "caller directory integrity violation",
			slog.String("external_id", externalID), slog.Int("matches", len(matches)))
	}
	return caller, err
}

func (d *PGDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *PGDirectory) Close() error { return d.db.Close() }
