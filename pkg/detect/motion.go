package detect

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// readingBuffer is the capacity of a detector's outgoing reading channel.
// When the consumer falls behind, new readings are dropped rather than
// blocking the capture path.
const readingBuffer = 16

// MotionDetector computes a motion level for each luminance frame by
// comparing it against the previous frame inside the active ROI.
//
// Frames are analyzed sequentially on one worker goroutine. [MotionDetector.Submit]
// never blocks: a frame arriving while the worker is busy is dropped, so the
// detector always works on the most recent available frame and never builds
// up a queue of stale images.
//
// No reading is produced for the very first frame, or for a frame whose byte
// length differs from its predecessor; a length change is treated as a
// resolution change that resets the baseline.
type MotionDetector struct {
	rois *ROIStore

	frames   chan Frame
	readings chan Reading

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	analyzed atomic.Int64
	dropped  atomic.Int64

	// prev is the baseline frame. Owned by the worker goroutine.
	prev []byte
}

// NewMotionDetector creates a detector that resolves its ROI against rois
// once per frame. Call [MotionDetector.Start] before submitting frames.
func NewMotionDetector(rois *ROIStore) *MotionDetector {
	return &MotionDetector{
		rois:     rois,
		frames:   make(chan Frame),
		readings: make(chan Reading, readingBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Readings returns the channel of motion-level readings. The channel is
// closed when the detector stops, so consumers ranging over it terminate
// cleanly rather than waiting for a reading that will never arrive.
func (d *MotionDetector) Readings() <-chan Reading {
	return d.readings
}

// Start launches the analysis worker. Calling Start on a running or stopped
// detector is a no-op.
func (d *MotionDetector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return
	}
	d.running = true
	go d.run()
	slog.Info("motion detector started")
}

// Stop terminates the worker and closes the readings channel. Safe to call
// at any time and more than once.
func (d *MotionDetector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	running := d.running
	d.running = false
	d.mu.Unlock()

	close(d.stop)
	if running {
		<-d.done
	} else {
		close(d.readings)
	}
	slog.Info("motion detector stopped",
		"frames_analyzed", d.analyzed.Load(),
		"frames_dropped", d.dropped.Load(),
	)
}

// Submit offers a frame for analysis. It returns false, counting the frame
// as dropped, when the worker is still busy with the previous frame or the
// detector is not running.
func (d *MotionDetector) Submit(f Frame) bool {
	select {
	case d.frames <- f:
		return true
	case <-d.stop:
		return false
	default:
		d.dropped.Add(1)
		return false
	}
}

// Stats returns the number of frames analyzed and dropped so far.
func (d *MotionDetector) Stats() (analyzed, dropped int64) {
	return d.analyzed.Load(), d.dropped.Load()
}

func (d *MotionDetector) run() {
	defer close(d.done)
	defer close(d.readings)
	for {
		select {
		case <-d.stop:
			return
		case f := <-d.frames:
			d.analyze(f)
		}
	}
}

// analyze compares f against the baseline frame and emits one reading.
// The ROI is read exactly once so that left/top/right/bottom cannot tear
// under a concurrent update.
func (d *MotionDetector) analyze(f Frame) {
	if len(f.Pix) == 0 || f.Width <= 0 || f.Height <= 0 {
		return
	}
	if f.Stride < f.Width {
		f.Stride = f.Width
	}

	if d.prev != nil && len(d.prev) == len(f.Pix) {
		roi := d.rois.Active()
		rect := roi.Pixels(f.Width, f.Height)
		if n := rect.Area(); n > 0 {
			var diff int64
			for y := rect.Top; y < rect.Bottom; y++ {
				row := y * f.Stride
				for x := rect.Left; x < rect.Right; x++ {
					i := row + x
					if i >= len(f.Pix) {
						break
					}
					dv := int(f.Pix[i]) - int(d.prev[i])
					if dv < 0 {
						dv = -dv
					}
					diff += int64(dv)
				}
			}
			level := float64(diff) / float64(n) / 255.0
			d.analyzed.Add(1)
			d.emit(Reading{Source: SourceCamera, Value: level, ObservedAt: f.CapturedAt})
		}
	}

	// Adopt f as the new baseline. A length change discards the old
	// baseline entirely so the next frame starts fresh.
	if d.prev == nil || len(d.prev) != len(f.Pix) {
		d.prev = make([]byte, len(f.Pix))
	}
	copy(d.prev, f.Pix)
}

// emit delivers r without blocking; a full consumer buffer drops the
// reading, never the capture path.
func (d *MotionDetector) emit(r Reading) {
	select {
	case d.readings <- r:
	default:
		d.dropped.Add(1)
	}
}
