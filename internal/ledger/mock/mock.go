// Package mock provides an in-memory implementation of [ledger.Store] for
// unit tests. It mirrors the transactional guarantees of the PostgreSQL
// store: a session and its laps are always deleted together.
//
// Set InsertLapErr together with FailNextInserts to make lap writes fail,
// e.g. to exercise the writer's retry path.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/svommelab/lapcounter/internal/ledger"
)

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

// Store is an in-memory [ledger.Store]. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	sessions map[int64]*ledger.Session
	nextSess int64
	nextLap  int64

	// InsertLapErr is returned by InsertLap while FailNextInserts is
	// non-zero. A negative FailNextInserts makes every call fail.
	InsertLapErr    error
	FailNextInserts int

	// FailPing, when non-nil, is returned by Ping.
	FailPing error

	// CallCountInsertLap records how many times InsertLap was called,
	// including failed calls.
	CallCountInsertLap int
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{sessions: map[int64]*ledger.Session{}, nextSess: 1, nextLap: 1}
}

// InsertSession implements [ledger.Store].
func (s *Store) InsertSession(_ context.Context, startedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSess
	s.nextSess++
	s.sessions[id] = &ledger.Session{ID: id, StartedAt: startedAt}
	return id, nil
}

// UpdateSession implements [ledger.Store].
func (s *Store) UpdateSession(_ context.Context, id int64, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ledger.ErrSessionNotFound
	}
	t := endedAt
	sess.EndedAt = &t
	return nil
}

// InsertLap implements [ledger.Store].
func (s *Store) InsertLap(_ context.Context, lap ledger.Lap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountInsertLap++
	if s.InsertLapErr != nil && s.FailNextInserts != 0 {
		if s.FailNextInserts > 0 {
			s.FailNextInserts--
		}
		return s.InsertLapErr
	}
	sess, ok := s.sessions[lap.SessionID]
	if !ok {
		return ledger.ErrSessionNotFound
	}
	lap.ID = s.nextLap
	s.nextLap++
	sess.Laps = append(sess.Laps, lap)
	return nil
}

// ListSessionsWithLaps implements [ledger.Store]. Sessions come back
// most-recent-first; laps within a session are ordered by timestamp.
func (s *Store) ListSessionsWithLaps(_ context.Context) ([]ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ledger.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		cp.Laps = append([]ledger.Lap(nil), sess.Laps...)
		sort.Slice(cp.Laps, func(i, j int) bool {
			return cp.Laps[i].Timestamp.Before(cp.Laps[j].Timestamp)
		})
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// DeleteSessionWithLaps implements [ledger.Store].
func (s *Store) DeleteSessionWithLaps(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ledger.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// DeleteAllSessionsWithLaps implements [ledger.Store].
func (s *Store) DeleteAllSessionsWithLaps(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[int64]*ledger.Session{}
	return nil
}

// InsertLapCalls returns CallCountInsertLap under the store's lock.
func (s *Store) InsertLapCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountInsertLap
}

// SetFailNextInserts adjusts the failure budget under the store's lock, so
// tests can flip failure modes while a writer goroutine is draining.
func (s *Store) SetFailNextInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailNextInserts = n
}

// Ping implements [ledger.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailPing
}

// Session returns a copy of one stored session for assertions, or an error
// if it does not exist.
func (s *Store) Session(id int64) (ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ledger.Session{}, ledger.ErrSessionNotFound
	}
	cp := *sess
	cp.Laps = append([]ledger.Lap(nil), sess.Laps...)
	return cp, nil
}
