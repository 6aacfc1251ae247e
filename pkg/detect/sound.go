package detect

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// nowFunc stamps readings with the capture time; swapped out in tests.
var nowFunc = time.Now

// DefaultBlockSize is the number of samples read per RMS block when the
// detector is constructed with a non-positive block size. At 44.1 kHz this
// is roughly 85 ms of audio per reading.
const DefaultBlockSize = 3760

// CaptureSource is a monophonic signed 16-bit PCM capture handle.
//
// Read may block until samples are available; Close must unblock any
// in-flight Read so that a stop request never waits on hardware.
// Implementations wrap a concrete capture backend (ALSA, CoreAudio, a test
// script); the sound detector owns exactly one source per Start/Stop cycle.
type CaptureSource interface {
	// Read fills buf with captured samples and returns the number of
	// samples written. io.EOF or any other error terminates the capture
	// loop cleanly.
	Read(buf []int16) (int, error)

	// Close releases the capture handle. Safe to call while a Read is in
	// flight and safe to call more than once.
	Close() error
}

// CaptureOpener opens a fresh capture handle. The sound detector calls it
// once per Start so a stopped detector holds no device resources.
type CaptureOpener func() (CaptureSource, error)

// SoundDetector continuously reads fixed-size PCM blocks from a capture
// source and emits one decibel-like loudness reading per block:
// 20·log10(max(rms,1)). The value is a relative amplitude metric, not
// calibrated SPL.
//
// The capture loop runs on its own goroutine, independent of the motion
// detector and of the consumer. Start is idempotent; Stop cancels the loop
// cooperatively between reads and releases the capture handle.
type SoundDetector struct {
	open      CaptureOpener
	blockSize int

	readings chan Reading

	mu      sync.Mutex
	running bool
	started bool
	stopped bool
	source  CaptureSource
	stop    chan struct{}
	done    chan struct{}
	lastErr error

	blocks  atomic.Int64
	dropped atomic.Int64
}

// NewSoundDetector creates a detector that opens its capture handle via
// open on Start. blockSize ≤ 0 selects [DefaultBlockSize].
func NewSoundDetector(open CaptureOpener, blockSize int) *SoundDetector {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &SoundDetector{
		open:      open,
		blockSize: blockSize,
		readings:  make(chan Reading, readingBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Readings returns the channel of loudness readings. Closed when the
// capture loop exits, whether by Stop or by a sensor fault.
func (d *SoundDetector) Readings() <-chan Reading {
	return d.readings
}

// Start opens the capture source and launches the capture loop. Calling
// Start while the detector is already running is a no-op and never opens a
// second capture handle. A stopped detector cannot be restarted.
func (d *SoundDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	if d.stopped {
		return errors.New("sound detector: already stopped")
	}

	src, err := d.open()
	if err != nil {
		return fmt.Errorf("sound detector: open capture: %w", err)
	}
	d.source = src
	d.running = true
	d.started = true
	go d.run(src)
	slog.Info("sound detector started", "block_size", d.blockSize)
	return nil
}

// Stop terminates the capture loop and releases the capture handle. The
// handle is closed first so a Read blocked on hardware returns immediately;
// the loop itself only checks for cancellation between reads. Safe to call
// at any time and more than once.
func (d *SoundDetector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	d.running = false
	src := d.source
	d.source = nil
	d.mu.Unlock()

	close(d.stop)
	if src != nil {
		if err := src.Close(); err != nil {
			slog.Warn("sound detector: close capture", "err", err)
		}
	}
	if started {
		<-d.done
	} else {
		close(d.readings)
	}
	slog.Info("sound detector stopped",
		"blocks_read", d.blocks.Load(),
		"readings_dropped", d.dropped.Load(),
	)
}

// Err returns the sensor fault that terminated the capture loop, or nil if
// the loop is running or was stopped deliberately.
func (d *SoundDetector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *SoundDetector) run(src CaptureSource) {
	defer close(d.done)
	defer close(d.readings)

	buf := make([]int16, d.blockSize)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		n, err := src.Read(buf)
		if err != nil {
			select {
			case <-d.stop:
				// Close during Stop unblocked the read; not a fault.
			default:
				d.mu.Lock()
				d.lastErr = fmt.Errorf("sound detector: read: %w", err)
				d.running = false
				d.mu.Unlock()
				if cerr := src.Close(); cerr != nil {
					slog.Warn("sound detector: close after fault", "err", cerr)
				}
				slog.Error("sound detector terminated", "err", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		d.blocks.Add(1)
		r := Reading{
			Source:     SourceMicrophone,
			Value:      LevelDB(buf[:n]),
			ObservedAt: nowFunc(),
		}
		select {
		case d.readings <- r:
		default:
			d.dropped.Add(1)
		}
	}
}

// LevelDB computes the block's relative loudness: the root mean square of
// the samples passed through 20·log10, with rms floored at 1.0 so silence
// maps to 0 dB rather than -Inf. Values are not floor-clamped beyond that.
func LevelDB(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return 20 * math.Log10(math.Max(rms, 1.0))
}
