// Package engine implements the turn-acceptance state machine at the heart
// of the lap counter.
//
// Level readings from the motion and sound detectors arrive on independent
// goroutines. All of them funnel into a single command queue drained by one
// consumer goroutine ([Engine.Run]), so the debounce check (compare the
// event timestamp against the last accepted trigger, then update it) is one
// serialized step. Two near-simultaneous events from different sources can
// therefore never both pass the gate against a stale trigger timestamp.
//
// The engine exclusively owns the in-memory counters and the open-session
// identity. Durable lap writes go through a [LapQueue] (normally the ledger
// writer) without blocking the decision loop; a failed write never rolls the
// counters back.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/svommelab/lapcounter/internal/config"
	"github.com/svommelab/lapcounter/internal/ledger"
	"github.com/svommelab/lapcounter/internal/observe"
	"github.com/svommelab/lapcounter/pkg/detect"
)

const (
	// queueBuffer bounds the command queue. Producers block briefly when it
	// fills instead of dropping decisions.
	queueBuffer = 64

	// maxLapTimestamps caps the in-memory timestamp list kept for display.
	// Full history lives in the ledger.
	maxLapTimestamps = 200

	// storeTimeout bounds the synchronous session-lifecycle calls made from
	// the consumer loop.
	storeTimeout = 5 * time.Second
)

// LapQueue accepts lap records for asynchronous durable write. Enqueue must
// not block; it reports whether the record was queued.
type LapQueue interface {
	Enqueue(lap ledger.Lap) bool
}

// Cue is a fire-and-forget acknowledgement played on each accepted turn.
// Failures are logged and swallowed; they never reach the decision loop.
type Cue interface {
	Play(ctx context.Context) error
}

// NoopCue is a Cue that does nothing.
type NoopCue struct{}

// Play implements [Cue].
func (NoopCue) Play(context.Context) error { return nil }

// Snapshot is an immutable view of the engine's observable state. LapTimestamps
// and DebugLog are private copies the caller may retain.
type Snapshot struct {
	SessionID      int64         `json:"session_id"`
	LapCount       uint64        `json:"lap_count"`
	DistanceMeters uint64        `json:"distance_meters"`
	LapTimestamps  []time.Time   `json:"lap_timestamps"`
	Counting       bool          `json:"counting"`
	MotionLevel    float64       `json:"motion_level"`
	SoundLevelDB   float64       `json:"sound_level_db"`
	DebugLog       []ReadingNote `json:"debug_log"`
}

// command is one serialized engine operation.
type command interface {
	apply(e *Engine)
}

// Engine is the single-consumer turn-acceptance state machine. Construct it
// with [New], call [Engine.StartSession], then run [Engine.Run] on its own
// goroutine. All other methods are safe to call from any goroutine.
type Engine struct {
	queue   chan command
	done    chan struct{}
	store   ledger.Store
	laps    LapQueue
	cue     Cue
	runtime *config.Runtime

	// State below is owned by the consumer goroutine. StartSession may
	// touch it only before Run starts.
	sessionID     int64
	lapCount      uint64
	distance      uint64
	lapTimestamps []time.Time
	lastTrigger   time.Time
	counting      bool
	motionLevel   float64
	soundLevelDB  float64
	debug         *readingLog

	published atomic.Pointer[Snapshot]
}

// Option configures an [Engine].
type Option func(*Engine)

// WithCue sets the activation cue played on accepted turns.
func WithCue(c Cue) Option {
	return func(e *Engine) {
		if c != nil {
			e.cue = c
		}
	}
}

// New creates an Engine. store handles session lifecycle synchronously; laps
// receives accepted lap records for asynchronous persistence; rt supplies the
// tunables snapshot read once per decision.
func New(store ledger.Store, laps LapQueue, rt *config.Runtime, opts ...Option) *Engine {
	e := &Engine{
		queue:    make(chan command, queueBuffer),
		done:     make(chan struct{}),
		store:    store,
		laps:     laps,
		cue:      NoopCue{},
		runtime:  rt,
		counting: true,
		debug:    newReadingLog(debugLogCap),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publish()
	return e
}

// StartSession opens the initial session in the ledger. Call it once, before
// [Engine.Run] starts.
func (e *Engine) StartSession(ctx context.Context) error {
	id, err := e.store.InsertSession(ctx, time.Now())
	if err != nil {
		return err
	}
	e.sessionID = id
	e.publish()
	slog.Info("engine: session opened", "session_id", id)
	return nil
}

// CloseSession stamps endedAt on the open session. Call it after [Engine.Run]
// has returned.
func (e *Engine) CloseSession(ctx context.Context) error {
	if e.sessionID == 0 {
		return nil
	}
	return e.store.UpdateSession(ctx, e.sessionID, time.Now())
}

// Run drains the command queue until ctx is cancelled. It is the only
// goroutine that mutates engine state.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.queue:
			cmd.apply(e)
		}
	}
}

// submit queues cmd, giving up if the engine has stopped.
func (e *Engine) submit(cmd command) bool {
	select {
	case e.queue <- cmd:
		return true
	case <-e.done:
		return false
	}
}

// SubmitLevel reports one level reading. The raw level is always recorded for
// display; only readings above the source's threshold become candidate turns.
func (e *Engine) SubmitLevel(source detect.Source, value float64, observedAt time.Time) {
	e.submit(levelCmd{source: source, value: value, at: observedAt})
}

// AcceptTurn submits a candidate turn directly, bypassing the threshold
// check. The debounce gate still applies.
func (e *Engine) AcceptTurn(source detect.Source, at time.Time) {
	e.submit(turnCmd{source: source, at: at})
}

// SetCounting pauses or resumes counting. Pausing gates acceptance only; it
// does not reset any state.
func (e *Engine) SetCounting(active bool) {
	e.submit(countingCmd{active: active})
}

// ResetSession closes the open session, opens a fresh one, and zeroes the
// in-memory counters. The closed session's laps stay in the ledger untouched.
func (e *Engine) ResetSession(ctx context.Context) error {
	reply := make(chan error, 1)
	if !e.submit(resetCmd{reply: reply}) {
		return context.Canceled
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearLapHistory deletes every session and lap from the ledger, then opens a
// fresh session with zeroed counters.
func (e *Engine) ClearLapHistory(ctx context.Context) error {
	reply := make(chan error, 1)
	if !e.submit(clearCmd{reply: reply}) {
		return context.Canceled
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the engine's current observable state. It never blocks on
// the decision loop.
func (e *Engine) Snapshot() Snapshot {
	return *e.published.Load()
}

// publish refreshes the lock-free snapshot after a state change.
func (e *Engine) publish() {
	snap := &Snapshot{
		SessionID:      e.sessionID,
		LapCount:       e.lapCount,
		DistanceMeters: e.distance,
		LapTimestamps:  append([]time.Time(nil), e.lapTimestamps...),
		Counting:       e.counting,
		MotionLevel:    e.motionLevel,
		SoundLevelDB:   e.soundLevelDB,
		DebugLog:       e.debug.entries(),
	}
	e.published.Store(snap)
}

type levelCmd struct {
	source detect.Source
	value  float64
	at     time.Time
}

func (c levelCmd) apply(e *Engine) {
	tun := e.runtime.Snapshot()
	observe.DefaultMetrics().RecordLevelReading(context.Background(), c.source.String())

	// Raw level reporting is unconditional and independent of acceptance.
	switch c.source {
	case detect.SourceCamera:
		e.motionLevel = c.value
	case detect.SourceMicrophone:
		e.soundLevelDB = c.value
	}
	e.debug.add(ReadingNote{Source: c.source.String(), Value: c.value, ObservedAt: c.at})

	threshold := tun.Sensitivity
	if c.source == detect.SourceMicrophone {
		threshold = tun.AudioThresholdDB
	}
	if c.value > threshold {
		e.acceptTurn(c.source, c.at, tun)
	}
	e.publish()
}

type turnCmd struct {
	source detect.Source
	at     time.Time
}

func (c turnCmd) apply(e *Engine) {
	e.acceptTurn(c.source, c.at, e.runtime.Snapshot())
	e.publish()
}

// acceptTurn is the debounce gate. Runs only on the consumer goroutine, so
// reading lastTrigger, comparing, and writing the new value is one atomic
// step with respect to every producer.
func (e *Engine) acceptTurn(source detect.Source, at time.Time, tun config.Tunables) {
	if !e.counting {
		return
	}
	if !e.lastTrigger.IsZero() && at.Sub(e.lastTrigger) < tun.MinInterval {
		return
	}

	e.lastTrigger = at
	e.lapCount++
	e.distance = e.lapCount * uint64(tun.LaneLengthMeters) / uint64(tun.TurnsPerLap)

	var duration time.Duration
	if n := len(e.lapTimestamps); n > 0 {
		duration = at.Sub(e.lapTimestamps[n-1])
	}
	e.lapTimestamps = append(e.lapTimestamps, at)
	if len(e.lapTimestamps) > maxLapTimestamps {
		e.lapTimestamps = e.lapTimestamps[len(e.lapTimestamps)-maxLapTimestamps:]
	}

	lap := ledger.Lap{
		SessionID: e.sessionID,
		Timestamp: at,
		Duration:  duration,
		Source:    source.String(),
	}
	if !e.laps.Enqueue(lap) {
		slog.Warn("engine: lap record not queued for persistence",
			"session_id", e.sessionID, "source", lap.Source)
	}

	if tun.CueEnabled {
		cue := e.cue
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := cue.Play(ctx); err != nil {
				slog.Debug("engine: activation cue failed", "err", err)
			}
		}()
	}

	observe.DefaultMetrics().RecordTurnAccepted(context.Background(), source.String())
	slog.Debug("engine: turn accepted",
		"source", source.String(),
		"lap_count", e.lapCount,
		"distance_m", e.distance,
	)
}

type countingCmd struct {
	active bool
}

func (c countingCmd) apply(e *Engine) {
	e.counting = c.active
	e.publish()
	slog.Info("engine: counting toggled", "active", c.active)
}

type resetCmd struct {
	reply chan error
}

func (c resetCmd) apply(e *Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	now := time.Now()
	if e.sessionID != 0 {
		if err := e.store.UpdateSession(ctx, e.sessionID, now); err != nil {
			c.reply <- err
			return
		}
	}
	id, err := e.store.InsertSession(ctx, now)
	if err != nil {
		c.reply <- err
		return
	}

	e.resetState(id)
	e.publish()
	slog.Info("engine: session reset", "session_id", id)
	c.reply <- nil
}

type clearCmd struct {
	reply chan error
}

func (c clearCmd) apply(e *Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := e.store.DeleteAllSessionsWithLaps(ctx); err != nil {
		c.reply <- err
		return
	}
	id, err := e.store.InsertSession(ctx, time.Now())
	if err != nil {
		c.reply <- err
		return
	}

	e.resetState(id)
	e.publish()
	slog.Info("engine: lap history cleared", "session_id", id)
	c.reply <- nil
}

// resetState zeroes the per-session counters and adopts the new session id.
func (e *Engine) resetState(sessionID int64) {
	e.sessionID = sessionID
	e.lapCount = 0
	e.distance = 0
	e.lapTimestamps = nil
	e.lastTrigger = time.Time{}
}
