package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the part of pgxpool.Pool the archive writes through.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// nullIfEmpty returns nil for empty strings (for nullable columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
