package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/svommelab/lapcounter/internal/ledger"
)

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

// Store is the PostgreSQL-backed lap ledger. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// runs [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [ledger.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertSession implements [ledger.Store]. The database assigns the id.
func (s *Store) InsertSession(ctx context.Context, startedAt time.Time) (int64, error) {
	const q = `INSERT INTO sessions (started_at) VALUES ($1) RETURNING id`

	var id int64
	if err := s.pool.QueryRow(ctx, q, startedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("ledger store: insert session: %w", err)
	}
	return id, nil
}

// UpdateSession implements [ledger.Store]. It stamps endedAt on the session.
func (s *Store) UpdateSession(ctx context.Context, id int64, endedAt time.Time) error {
	const q = `UPDATE sessions SET ended_at = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, endedAt)
	if err != nil {
		return fmt.Errorf("ledger store: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger store: update session %d: %w", id, ledger.ErrSessionNotFound)
	}
	return nil
}

// InsertLap implements [ledger.Store]. Duration is stored in milliseconds,
// matching the wire format the history export exposes.
func (s *Store) InsertLap(ctx context.Context, lap ledger.Lap) error {
	const q = `
		INSERT INTO laps (session_id, timestamp, duration_ms, source)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q,
		lap.SessionID,
		lap.Timestamp,
		lap.Duration.Milliseconds(),
		lap.Source,
	)
	if err != nil {
		return fmt.Errorf("ledger store: insert lap: %w", err)
	}
	return nil
}

// ListSessionsWithLaps implements [ledger.Store]. Sessions come back
// most-recent-first; each session's laps are ordered by timestamp so that
// interval durations line up with their predecessors.
func (s *Store) ListSessionsWithLaps(ctx context.Context) ([]ledger.Session, error) {
	const qSessions = `
		SELECT id, started_at, ended_at
		FROM   sessions
		ORDER  BY started_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, qSessions)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Session, error) {
		var sess ledger.Session
		if err := row.Scan(&sess.ID, &sess.StartedAt, &sess.EndedAt); err != nil {
			return ledger.Session{}, err
		}
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger store: scan sessions: %w", err)
	}

	const qLaps = `
		SELECT id, session_id, timestamp, duration_ms, source
		FROM   laps
		ORDER  BY session_id, timestamp, id`

	lapRows, err := s.pool.Query(ctx, qLaps)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list laps: %w", err)
	}
	laps, err := pgx.CollectRows(lapRows, scanLap)
	if err != nil {
		return nil, fmt.Errorf("ledger store: scan laps: %w", err)
	}

	bySession := make(map[int64][]ledger.Lap, len(sessions))
	for _, lap := range laps {
		bySession[lap.SessionID] = append(bySession[lap.SessionID], lap)
	}
	for i := range sessions {
		if l := bySession[sessions[i].ID]; l != nil {
			sessions[i].Laps = l
		} else {
			sessions[i].Laps = []ledger.Lap{}
		}
	}
	return sessions, nil
}

// DeleteSessionWithLaps implements [ledger.Store]. Laps and session go in
// one transaction so readers never observe a half-deleted session.
func (s *Store) DeleteSessionWithLaps(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger store: begin delete: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM laps WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("ledger store: delete laps: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ledger store: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger store: delete session %d: %w", id, ledger.ErrSessionNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger store: commit delete: %w", err)
	}
	return nil
}

// DeleteAllSessionsWithLaps implements [ledger.Store].
func (s *Store) DeleteAllSessionsWithLaps(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger store: begin delete all: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM laps`); err != nil {
		return fmt.Errorf("ledger store: delete all laps: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("ledger store: delete all sessions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger store: commit delete all: %w", err)
	}
	return nil
}

// scanLap scans one laps row.
func scanLap(row pgx.CollectableRow) (ledger.Lap, error) {
	var (
		lap        ledger.Lap
		durationMS int64
	)
	if err := row.Scan(&lap.ID, &lap.SessionID, &lap.Timestamp, &durationMS, &lap.Source); err != nil {
		return ledger.Lap{}, err
	}
	lap.Duration = time.Duration(durationMS) * time.Millisecond
	return lap, nil
}
