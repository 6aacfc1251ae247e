package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/svommelab/lapcounter/internal/observe"
	"github.com/svommelab/lapcounter/internal/resilience"
)

// Default writer configuration.
const (
	defaultWriterBuffer = 256
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// Writer persists lap records asynchronously. The engine enqueues a lap
// before its accept step completes (at-least-once if the process survives)
// and never blocks on the database; a single drain goroutine performs the
// actual inserts, retrying transient failures through a circuit breaker.
//
// A lap that cannot be written after all attempts is dropped from the queue
// and logged; in-memory counters are never rolled back, so the live session
// stays correct while history may end up incomplete.
type Writer struct {
	store   Store
	breaker *resilience.Breaker

	laps     chan Lap
	attempts int
	backoff  time.Duration

	stopOnce sync.Once
	done     chan struct{}

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// WriterOption configures a [Writer].
type WriterOption func(*Writer)

// WithBuffer sets the lap queue capacity. Default: 256.
func WithBuffer(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.laps = make(chan Lap, n)
		}
	}
}

// WithRetry sets the per-lap attempt budget and the backoff between
// attempts. Defaults: 3 attempts, 500ms backoff.
func WithRetry(attempts int, backoff time.Duration) WriterOption {
	return func(w *Writer) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if backoff > 0 {
			w.backoff = backoff
		}
	}
}

// NewWriter creates a Writer on top of store. Call [Writer.Run] on its own
// goroutine to start draining.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:    store,
		breaker:  resilience.NewBreaker(resilience.Config{Name: "ledger"}),
		laps:     make(chan Lap, defaultWriterBuffer),
		attempts: defaultMaxAttempts,
		backoff:  defaultRetryBackoff,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue queues lap for durable write without blocking. It returns false,
// and logs since history will be incomplete, if the queue is full or the
// writer has been closed.
func (w *Writer) Enqueue(lap Lap) bool {
	select {
	case <-w.done:
		w.dropped.Add(1)
		slog.Error("ledger writer: enqueue after close, lap lost",
			"session_id", lap.SessionID, "timestamp", lap.Timestamp)
		return false
	default:
	}
	select {
	case w.laps <- lap:
		return true
	default:
		w.dropped.Add(1)
		slog.Error("ledger writer: queue full, lap lost",
			"session_id", lap.SessionID, "timestamp", lap.Timestamp)
		return false
	}
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered before returning.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case lap := <-w.laps:
			w.write(ctx, lap)
		}
	}
}

// Close marks the writer closed for new laps. Laps already queued are still
// flushed by [Writer.Run].
func (w *Writer) Close() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Stats returns the number of laps written, permanently failed, and dropped
// at the queue boundary.
func (w *Writer) Stats() (written, failed, dropped int64) {
	return w.written.Load(), w.failed.Load(), w.dropped.Load()
}

// write inserts one lap, retrying transient failures. Breaker rejections
// consume an attempt so a dead database cannot stall the drain loop.
func (w *Writer) write(ctx context.Context, lap Lap) {
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		lastErr = w.breaker.Execute(func() error {
			return w.store.InsertLap(ctx, lap)
		})
		if lastErr == nil {
			w.written.Add(1)
			return
		}
		if attempt < w.attempts && !errors.Is(lastErr, context.Canceled) {
			select {
			case <-time.After(w.backoff):
			case <-ctx.Done():
			}
		}
	}
	w.failed.Add(1)
	observe.DefaultMetrics().RecordLapWriteFailure(ctx)
	slog.Error("ledger writer: lap not persisted",
		"session_id", lap.SessionID,
		"timestamp", lap.Timestamp,
		"source", lap.Source,
		"err", lastErr)
}

// flush performs a best-effort drain of the remaining queue during shutdown.
func (w *Writer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case lap := <-w.laps:
			w.write(ctx, lap)
		default:
			return
		}
	}
}
