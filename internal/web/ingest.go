package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/svommelab/lapcounter/internal/observe"
	"github.com/svommelab/lapcounter/pkg/detect"
)

// maxFrameBytes bounds a single luminance frame upload. 1920x1080 grayscale
// is ~2 MiB; anything larger is not a plausible frame.
const maxFrameBytes = 8 << 20

// maxAudioBytes bounds a single PCM chunk upload.
const maxAudioBytes = 1 << 20

// handleFrameIngest accepts one grayscale frame (body = row-major luminance
// bytes, dimensions in X-Frame-Width / X-Frame-Height) and hands it to the
// motion detector. A frame arriving while the previous one is still being
// analyzed is dropped and answered with 429.
func (s *Server) handleFrameIngest(w http.ResponseWriter, r *http.Request) {
	width, err := strconv.Atoi(r.Header.Get("X-Frame-Width"))
	if err != nil || width <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("X-Frame-Width must be a positive integer"))
		return
	}
	height, err := strconv.Atoi(r.Header.Get("X-Frame-Height"))
	if err != nil || height <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("X-Frame-Height must be a positive integer"))
		return
	}
	if width*height > maxFrameBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("frame dimensions too large"))
		return
	}

	pix, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(pix) != width*height {
		writeError(w, http.StatusBadRequest,
			fmt.Errorf("body is %d bytes, want width*height = %d", len(pix), width*height))
		return
	}

	accepted := s.motion.Submit(detect.Frame{
		Pix:        pix,
		Width:      width,
		Height:     height,
		Stride:     width,
		CapturedAt: time.Now(),
	})
	if !accepted {
		observe.DefaultMetrics().RecordFrameDropped(r.Context())
		writeError(w, http.StatusTooManyRequests, errors.New("previous frame still being analyzed"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleAudioIngest appends little-endian signed 16-bit PCM samples from the
// request body to the audio pipe feeding the sound detector.
func (s *Server) handleAudioIngest(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(b) > maxAudioBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("audio chunk too large"))
		return
	}

	n, err := s.audio.WriteBytes(b)
	if err != nil {
		// The pipe closes only during shutdown.
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"bytes_consumed": n})
}
