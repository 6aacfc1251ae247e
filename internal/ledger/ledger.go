// Package ledger defines the durable session/lap store consumed by the turn
// acceptance engine, together with a buffered asynchronous writer for lap
// records.
//
// The ledger owns durable storage and assigns session and lap identifiers on
// insert; the engine owns the in-memory counters. A failed write never rolls
// the in-memory state back; the running session's source of truth is the
// engine, and persistence gaps are logged for diagnosis.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when an operation references a session id
// that does not exist in the store.
var ErrSessionNotFound = errors.New("ledger: session not found")

// Lap is one accepted turn, immutable once written. Duration is the gap to
// the previous lap in the same session and zero for the session's first lap.
type Lap struct {
	ID        int64         `json:"id"`
	SessionID int64         `json:"sessionId"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"durationMs"`
	Source    string        `json:"source"`
}

// Session is one continuous counting period. EndedAt is nil while the
// session is open; exactly one session is open at a time, enforced by the
// engine (opening a new session stamps the previous one closed).
type Session struct {
	ID        int64      `json:"id"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Laps      []Lap      `json:"laps"`
}

// Store is the narrow write interface the engine persists through.
//
// Implementations must keep sessions and their laps consistent: a session
// and its laps are never observed partially deleted. All methods are safe
// for concurrent use.
type Store interface {
	// InsertSession creates a new open session and returns its id.
	InsertSession(ctx context.Context, startedAt time.Time) (int64, error)

	// UpdateSession stamps endedAt on the session, closing it.
	UpdateSession(ctx context.Context, id int64, endedAt time.Time) error

	// InsertLap appends a lap record. The lap's ID field is ignored; the
	// store assigns one.
	InsertLap(ctx context.Context, lap Lap) error

	// ListSessionsWithLaps returns all sessions most-recent-first, each
	// with its laps ordered by timestamp.
	ListSessionsWithLaps(ctx context.Context) ([]Session, error)

	// DeleteSessionWithLaps removes one session and all its laps in a
	// single transaction.
	DeleteSessionWithLaps(ctx context.Context, id int64) error

	// DeleteAllSessionsWithLaps clears the entire history in a single
	// transaction.
	DeleteAllSessionsWithLaps(ctx context.Context) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
