// Package postgres provides the PostgreSQL-backed [ledger.Store].
//
// Sessions and laps live in two tables tied together by a foreign key with
// ON DELETE handled explicitly inside transactions, so a session and its
// laps are never observed partially deleted. [Migrate] creates the schema
// on connect.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	id, _ := store.InsertSession(ctx, time.Now())
//	_ = store.InsertLap(ctx, ledger.Lap{SessionID: id, …})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          BIGSERIAL    PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at
    ON sessions (started_at DESC);
`

const ddlLaps = `
CREATE TABLE IF NOT EXISTS laps (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  BIGINT       NOT NULL REFERENCES sessions (id),
    timestamp   TIMESTAMPTZ  NOT NULL,
    duration_ms BIGINT       NOT NULL DEFAULT 0,
    source      TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_laps_session_id
    ON laps (session_id);

CREATE INDEX IF NOT EXISTS idx_laps_session_timestamp
    ON laps (session_id, timestamp);
`

// Migrate creates all required tables and indexes. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSessions, ddlLaps} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
