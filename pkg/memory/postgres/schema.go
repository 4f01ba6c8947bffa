// Package postgres provides a PostgreSQL-backed [memory.Persister].
//
// Each session is one row; the message log is stored as a JSONB array so a
// save is a single upsert. [Migrate] creates the table on startup.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, sess)
//	recent, _ := store.Recent(ctx, 100)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS conversation_sessions (
    id                TEXT         PRIMARY KEY,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_activity_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    active            BOOLEAN      NOT NULL DEFAULT false,
    owner             TEXT         NOT NULL DEFAULT '',
    messages          JSONB        NOT NULL DEFAULT '[]'
);

ALTER TABLE conversation_sessions ADD COLUMN IF NOT EXISTS owner TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_conversation_sessions_last_activity
    ON conversation_sessions (last_activity_at DESC);
`

// Migrate creates the sessions table if it does not exist. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
