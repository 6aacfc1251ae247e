package config

import (
	"sync/atomic"
	"time"
)

// Tunables is the immutable set of turn-acceptance parameters the engine
// consults on every decision. A decision reads exactly one snapshot, so a
// concurrent config reload can never mix old and new values within a single
// turn evaluation.
type Tunables struct {
	LaneLengthMeters int
	TurnsPerLap      int
	Sensitivity      float64
	AudioThresholdDB float64
	MinInterval      time.Duration
	CueEnabled       bool
}

// Runtime holds the current [Tunables] behind an atomic pointer. Update
// replaces the whole snapshot; readers are lock-free.
type Runtime struct {
	tunables atomic.Pointer[Tunables]
}

// NewRuntime creates a Runtime seeded from cfg.
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	r.Update(cfg)
	return r
}

// Snapshot returns the current tunables. The returned value is a copy and
// never changes after return.
func (r *Runtime) Snapshot() Tunables {
	return *r.tunables.Load()
}

// Update derives a fresh snapshot from cfg and publishes it. Changes take
// effect on the next engine decision, not retroactively.
func (r *Runtime) Update(cfg *Config) {
	t := &Tunables{
		LaneLengthMeters: cfg.Pool.LaneLengthMeters,
		TurnsPerLap:      cfg.Pool.TurnsPerLap,
		Sensitivity:      cfg.Detect.Sensitivity,
		AudioThresholdDB: cfg.Detect.AudioThresholdDB,
		MinInterval:      time.Duration(cfg.Detect.MinIntervalMs) * time.Millisecond,
		CueEnabled:       cfg.Cue.Enabled,
	}
	r.tunables.Store(t)
}
