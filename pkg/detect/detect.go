// Package detect implements the two lap-turn signal detectors: a motion
// detector that compares luminance frames inside a region of interest, and a
// sound detector that measures the RMS level of a PCM capture stream.
//
// Both detectors turn raw sensor input into a stream of [Reading] values:
// one scalar activity level per analyzed frame or audio block. They know
// nothing about thresholds, debouncing, or laps; that is the turn acceptance
// engine's job. The two detectors run on independent goroutines and may be
// started and stopped independently of each other and of the consumer.
//
// This package lives under pkg/ because alternative capture backends
// (V4L2, ALSA, test harnesses) are expected to implement [CaptureSource]
// and feed [Frame] values from outside the module.
package detect

import "time"

// Source identifies which detector produced a reading or a turn event.
type Source int

const (
	// SourceCamera marks readings from the motion detector.
	SourceCamera Source = iota

	// SourceMicrophone marks readings from the sound detector.
	SourceMicrophone
)

// String returns the human-readable name of the source.
func (s Source) String() string {
	switch s {
	case SourceCamera:
		return "camera"
	case SourceMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}

// Reading is a single scalar activity-level observation.
//
// Camera values are the mean absolute luminance delta over the ROI,
// normalized to [0,1]. Microphone values are decibel-like relative units
// (20·log10(max(rms,1))), unbounded above and deliberately uncalibrated;
// they are comparable only against thresholds measured on the same device.
type Reading struct {
	// Source is the detector that produced this reading.
	Source Source

	// Value is the activity level in source-specific units.
	Value float64

	// ObservedAt is the capture time of the underlying frame or block.
	ObservedAt time.Time
}

// Frame is a single-plane luminance image as delivered by the camera
// pipeline. Pix holds one byte per pixel, rows separated by Stride bytes.
// Stride may exceed Width when rows are padded.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int

	// CapturedAt is the frame timestamp assigned by the camera pipeline.
	CapturedAt time.Time
}
