package detect_test

import (
	"math"
	"testing"
	"time"

	"github.com/svommelab/lapcounter/pkg/detect"
)

// submitWait retries Submit until the analysis worker accepts the frame.
// Submit is deliberately non-blocking (drop-if-busy), so a test has to spin
// until the worker is ready to receive.
func submitWait(t *testing.T, d *detect.MotionDetector, f detect.Frame) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !d.Submit(f) {
		if time.Now().After(deadline) {
			t.Fatal("worker never accepted frame")
		}
		time.Sleep(time.Millisecond)
	}
}

// nextReading waits for one reading or fails the test.
func nextReading(t *testing.T, ch <-chan detect.Reading) detect.Reading {
	t.Helper()
	select {
	case r, ok := <-ch:
		if !ok {
			t.Fatal("readings channel closed unexpectedly")
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reading")
	}
	return detect.Reading{}
}

// grayFrame builds a width×height frame filled with value v.
func grayFrame(width, height int, v byte) detect.Frame {
	pix := make([]byte, width*height)
	for i := range pix {
		pix[i] = v
	}
	return detect.Frame{Pix: pix, Width: width, Height: height, Stride: width, CapturedAt: time.Now()}
}

func TestMotionDetector_FirstFrameEmitsNothing(t *testing.T) {
	t.Parallel()

	d := detect.NewMotionDetector(detect.NewROIStore())
	d.Start()
	defer d.Stop()

	submitWait(t, d, grayFrame(10, 10, 0))

	select {
	case r := <-d.Readings():
		t.Fatalf("got reading %+v for the first frame, want none", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMotionDetector_FullSwingLevel(t *testing.T) {
	t.Parallel()

	d := detect.NewMotionDetector(detect.NewROIStore())
	d.Start()
	defer d.Stop()

	// Black frame then white frame: every ROI pixel differs by 255, so the
	// normalized level is exactly 1.0.
	submitWait(t, d, grayFrame(10, 10, 0))
	submitWait(t, d, grayFrame(10, 10, 255))

	r := nextReading(t, d.Readings())
	if r.Source != detect.SourceCamera {
		t.Errorf("Source = %v, want camera", r.Source)
	}
	if math.Abs(r.Value-1.0) > 1e-9 {
		t.Errorf("Value = %f, want 1.0", r.Value)
	}
}

func TestMotionDetector_IdenticalFramesLevelZero(t *testing.T) {
	t.Parallel()

	d := detect.NewMotionDetector(detect.NewROIStore())
	d.Start()
	defer d.Stop()

	submitWait(t, d, grayFrame(10, 10, 128))
	submitWait(t, d, grayFrame(10, 10, 128))

	if r := nextReading(t, d.Readings()); r.Value != 0 {
		t.Errorf("Value = %f, want 0 for identical frames", r.Value)
	}
}

func TestMotionDetector_ResolutionChangeResetsBaseline(t *testing.T) {
	t.Parallel()

	d := detect.NewMotionDetector(detect.NewROIStore())
	d.Start()
	defer d.Stop()

	submitWait(t, d, grayFrame(10, 10, 0))
	// Different byte length: must reset the baseline and emit nothing.
	submitWait(t, d, grayFrame(8, 8, 255))
	// Now the 8×8 white frame is the baseline; an identical follow-up
	// yields a zero reading, the first one emitted at all.
	submitWait(t, d, grayFrame(8, 8, 255))

	if r := nextReading(t, d.Readings()); r.Value != 0 {
		t.Errorf("Value = %f, want 0 (baseline reset on resolution change)", r.Value)
	}
	select {
	case r := <-d.Readings():
		t.Fatalf("unexpected extra reading %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMotionDetector_StopClosesReadings(t *testing.T) {
	t.Parallel()

	d := detect.NewMotionDetector(detect.NewROIStore())
	d.Start()
	d.Stop()
	d.Stop() // repeated Stop is a no-op

	if _, ok := <-d.Readings(); ok {
		t.Error("readings channel still open after Stop")
	}
	if d.Submit(grayFrame(4, 4, 0)) {
		t.Error("Submit accepted a frame after Stop")
	}
}

func TestMotionDetector_DropsWhenBusy(t *testing.T) {
	t.Parallel()

	// Without Start there is no worker receiving, so every Submit takes the
	// drop path. This is the bounded-staleness policy in its purest form.
	d := detect.NewMotionDetector(detect.NewROIStore())
	for i := 0; i < 5; i++ {
		if d.Submit(grayFrame(4, 4, 0)) {
			t.Fatal("Submit succeeded with no worker running")
		}
	}
	if _, dropped := d.Stats(); dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
}
