package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/svommelab/lapcounter/internal/config"
	"github.com/svommelab/lapcounter/internal/engine"
	"github.com/svommelab/lapcounter/internal/ledger"
	"github.com/svommelab/lapcounter/internal/ledger/mock"
	"github.com/svommelab/lapcounter/internal/web"
	"github.com/svommelab/lapcounter/pkg/detect"
)

// ingestFixture extends the basic fixture with live detector inputs.
type ingestFixture struct {
	motion *detect.MotionDetector
	audio  *detect.PipeCapture
	srv    *httptest.Server
}

func newIngestFixture(t *testing.T, startMotion bool) *ingestFixture {
	t.Helper()

	store := mock.NewStore()
	writer := ledger.NewWriter(store)
	eng := engine.New(store, writer, config.NewRuntime(config.Default()))
	if err := eng.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	engDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() { eng.Run(ctx); close(engDone) }()
	go func() { writer.Run(ctx); close(writerDone) }()

	rois := detect.NewROIStore()
	motion := detect.NewMotionDetector(rois)
	if startMotion {
		motion.Start()
	}
	audio := detect.NewPipeCapture()

	server := web.NewServer(":0", eng, store, rois,
		web.WithMotionIngest(motion),
		web.WithAudioIngest(audio),
	)
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		ts.Close()
		motion.Stop()
		_ = audio.Close()
		cancel()
		<-engDone
		<-writerDone
	})
	return &ingestFixture{motion: motion, audio: audio, srv: ts}
}

func (f *ingestFixture) postFrame(t *testing.T, width, height string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/frames", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-Frame-Width", width)
	req.Header.Set("X-Frame-Height", height)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/frames: %v", err)
	}
	return resp
}

func TestFrameIngestAccepted(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, true)

	frame := make([]byte, 8*6)
	resp := f.postFrame(t, "8", "6", frame)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	// The first frame only seeds the baseline; keep posting until one is
	// compared against it. A 429 here just means the worker was mid-frame.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if analyzed, _ := f.motion.Stats(); analyzed >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame was ever analyzed")
		}
		resp := f.postFrame(t, "8", "6", frame)
		resp.Body.Close()
		time.Sleep(time.Millisecond)
	}
}

func TestFrameIngestValidation(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, true)

	cases := []struct {
		name          string
		width, height string
		body          []byte
		want          int
	}{
		{"missing width", "", "6", make([]byte, 48), http.StatusBadRequest},
		{"negative height", "8", "-1", make([]byte, 48), http.StatusBadRequest},
		{"body length mismatch", "8", "6", make([]byte, 47), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.postFrame(t, tc.width, tc.height, tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestFrameIngestDropWhenBusy(t *testing.T) {
	t.Parallel()
	// The detector is never started, so no worker receives the frame and the
	// submission is dropped just as it would be mid-analysis.
	f := newIngestFixture(t, false)

	resp := f.postFrame(t, "4", "4", make([]byte, 16))
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if _, dropped := f.motion.Stats(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestAudioIngestFeedsPipe(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, false)

	// 0x0102 then -1, little endian.
	resp, err := http.Post(f.srv.URL+"/api/audio", "application/octet-stream",
		bytes.NewReader([]byte{0x02, 0x01, 0xff, 0xff}))
	if err != nil {
		t.Fatalf("POST /api/audio: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body struct {
		BytesConsumed int `json:"bytes_consumed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.BytesConsumed != 4 {
		t.Errorf("bytes_consumed = %d, want 4", body.BytesConsumed)
	}

	buf := make([]int16, 4)
	n, err := f.audio.Read(buf)
	if err != nil {
		t.Fatalf("pipe read: %v", err)
	}
	if n != 2 || buf[0] != 0x0102 || buf[1] != -1 {
		t.Errorf("pipe samples = %v, want [258 -1]", buf[:n])
	}
}

func TestAudioIngestAfterShutdown(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t, false)
	_ = f.audio.Close()

	resp, err := http.Post(f.srv.URL+"/api/audio", "application/octet-stream",
		bytes.NewReader([]byte{0x01, 0x00}))
	if err != nil {
		t.Fatalf("POST /api/audio: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
