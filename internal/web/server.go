// Package web exposes the lap counter's HTTP surface: live state, session
// history, CSV export, session controls, a websocket feed for live displays,
// Prometheus metrics, and health probes.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/svommelab/lapcounter/internal/engine"
	"github.com/svommelab/lapcounter/internal/health"
	"github.com/svommelab/lapcounter/internal/ledger"
	"github.com/svommelab/lapcounter/internal/observe"
	"github.com/svommelab/lapcounter/pkg/detect"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server wires the HTTP routes and owns the listener lifecycle.
type Server struct {
	engine *engine.Engine
	store  ledger.Store
	rois   *detect.ROIStore
	motion *detect.MotionDetector
	audio  *detect.PipeCapture
	health *health.Handler

	httpSrv *http.Server
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithMotionIngest enables POST /api/frames, feeding luminance frames to d.
func WithMotionIngest(d *detect.MotionDetector) ServerOption {
	return func(s *Server) { s.motion = d }
}

// WithAudioIngest enables POST /api/audio, feeding PCM samples into p.
func WithAudioIngest(p *detect.PipeCapture) ServerOption {
	return func(s *Server) { s.audio = p }
}

// NewServer builds the HTTP server on addr. rois may be nil when the camera
// detector is disabled; the ROI endpoints then return 404.
func NewServer(addr string, eng *engine.Engine, store ledger.Store, rois *detect.ROIStore, opts ...ServerOption) *Server {
	s := &Server{
		engine: eng,
		store:  store,
		rois:   rois,
		health: health.New(health.LedgerChecker(store)),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/export.csv", s.handleExportCSV)
	mux.HandleFunc("POST /api/session/reset", s.handleResetSession)
	mux.HandleFunc("POST /api/counting", s.handleSetCounting)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/roi", s.handleGetROI)
	mux.HandleFunc("PUT /api/roi", s.handlePutROI)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.motion != nil {
		mux.HandleFunc("POST /api/frames", s.handleFrameIngest)
	}
	if s.audio != nil {
		mux.HandleFunc("POST /api/audio", s.handleAudioIngest)
	}

	handler := observe.Middleware(observe.DefaultMetrics())(mux)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("web: listening", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
