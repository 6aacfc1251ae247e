package engine

import "time"

// debugLogCap bounds the in-memory diagnostic log of recent readings.
const debugLogCap = 50

// ReadingNote is one entry in the bounded diagnostic log: a raw level
// reading as it arrived, before any threshold or debounce decision.
type ReadingNote struct {
	Source     string    `json:"source"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// readingLog is a fixed-capacity ring of the most recent readings. Oldest
// entries fall off first. Not goroutine-safe; owned by the engine's consumer
// goroutine.
type readingLog struct {
	buf   []ReadingNote
	next  int
	total int
}

func newReadingLog(capacity int) *readingLog {
	return &readingLog{buf: make([]ReadingNote, capacity)}
}

func (l *readingLog) add(n ReadingNote) {
	l.buf[l.next] = n
	l.next = (l.next + 1) % len(l.buf)
	l.total++
}

// entries returns the retained readings, oldest first.
func (l *readingLog) entries() []ReadingNote {
	if l.total == 0 {
		return nil
	}
	count := l.total
	if count > len(l.buf) {
		count = len(l.buf)
	}
	out := make([]ReadingNote, 0, count)
	start := (l.next - count + len(l.buf)) % len(l.buf)
	for i := 0; i < count; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}
