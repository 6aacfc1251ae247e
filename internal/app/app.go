// Package app wires all lap counter subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects the
// ledger, engine, detectors, and HTTP server; Run executes them until the
// context is cancelled; Shutdown tears everything down in order.
//
// For testing, inject fakes via functional options (WithStore,
// WithCaptureOpener, WithCue). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/svommelab/lapcounter/internal/config"
	"github.com/svommelab/lapcounter/internal/cue"
	"github.com/svommelab/lapcounter/internal/engine"
	"github.com/svommelab/lapcounter/internal/ledger"
	"github.com/svommelab/lapcounter/internal/ledger/postgres"
	"github.com/svommelab/lapcounter/internal/observe"
	"github.com/svommelab/lapcounter/internal/web"
	"github.com/svommelab/lapcounter/pkg/detect"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	runtime *config.Runtime

	store  ledger.Store
	writer *ledger.Writer
	engine *engine.Engine
	cue    engine.Cue

	rois      *detect.ROIStore
	motion    *detect.MotionDetector
	sound     *detect.SoundDetector
	audioPipe *detect.PipeCapture
	opener    detect.CaptureOpener

	web *web.Server

	// closers are called in order during Shutdown.
	closers []func() error

	detStopOnce sync.Once
	stopOnce    sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a ledger store instead of connecting to PostgreSQL.
func WithStore(s ledger.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCaptureOpener injects the sound detector's capture opener instead of
// the HTTP-fed PCM pipe.
func WithCaptureOpener(open detect.CaptureOpener) Option {
	return func(a *App) { a.opener = open }
}

// WithCue injects the activation cue played on accepted turns.
func WithCue(c engine.Cue) Option {
	return func(a *App) { a.cue = c }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: ledger connection and schema migration, session open, and
// detector construction all happen here, so a returned App is ready to Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initLedger(ctx); err != nil {
		return nil, fmt.Errorf("app: init ledger: %w", err)
	}

	a.runtime = config.NewRuntime(cfg)
	a.writer = ledger.NewWriter(a.store)

	if a.cue == nil && len(cfg.Cue.Command) > 0 {
		c, err := cue.NewCommand(cfg.Cue.Command...)
		if err != nil {
			return nil, fmt.Errorf("app: init cue: %w", err)
		}
		a.cue = c
	}

	var engOpts []engine.Option
	if a.cue != nil {
		engOpts = append(engOpts, engine.WithCue(a.cue))
	}
	a.engine = engine.New(a.store, a.writer, a.runtime, engOpts...)
	if err := a.engine.StartSession(ctx); err != nil {
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	if err := a.initDetectors(); err != nil {
		return nil, fmt.Errorf("app: init detectors: %w", err)
	}

	a.initWeb()
	return a, nil
}

// initLedger connects the PostgreSQL store unless one was injected.
func (a *App) initLedger(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return errors.New("storage.postgres_dsn is required when no store is injected")
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initDetectors builds the enabled detectors. The motion detector reads
// frames posted to the HTTP surface; the sound detector reads the PCM pipe
// fed the same way, unless an opener was injected.
func (a *App) initDetectors() error {
	if a.cfg.Detect.CameraEnabled {
		rois := detect.NewROIStore()
		if err := a.seedROIs(rois, a.cfg); err != nil {
			return err
		}
		a.rois = rois
		a.motion = detect.NewMotionDetector(rois)
	}

	if a.cfg.Detect.SoundEnabled {
		if a.opener == nil {
			a.audioPipe = detect.NewPipeCapture()
			a.opener = func() (detect.CaptureSource, error) { return a.audioPipe, nil }
		}
		a.sound = detect.NewSoundDetector(a.opener, a.cfg.Detect.SoundBlockSize)
	}
	return nil
}

// seedROIs pushes the configured per-facing regions and active facing into
// the store.
func (a *App) seedROIs(rois *detect.ROIStore, cfg *config.Config) error {
	if err := rois.SetForFacing(detect.FacingBack, cfg.Detect.ROI.Back); err != nil {
		return fmt.Errorf("roi.back: %w", err)
	}
	if err := rois.SetForFacing(detect.FacingFront, cfg.Detect.ROI.Front); err != nil {
		return fmt.Errorf("roi.front: %w", err)
	}
	if err := rois.SetFacing(cfg.Detect.CameraFacing); err != nil {
		return fmt.Errorf("camera_facing: %w", err)
	}
	return nil
}

// initWeb builds the HTTP server with the ingestion routes that match the
// enabled detectors. An empty listen address disables the HTTP surface.
func (a *App) initWeb() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}
	var opts []web.ServerOption
	if a.motion != nil {
		opts = append(opts, web.WithMotionIngest(a.motion))
	}
	if a.audioPipe != nil {
		opts = append(opts, web.WithAudioIngest(a.audioPipe))
	}
	a.web = web.NewServer(a.cfg.Server.ListenAddr, a.engine, a.store, a.rois, opts...)
}

// Web returns the HTTP server, or nil when the HTTP surface is disabled.
func (a *App) Web() *web.Server {
	return a.web
}

// Engine returns the turn-acceptance engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails. Detector readings are pumped into the engine here; each pump
// exits when its detector's readings channel closes.
func (a *App) Run(ctx context.Context) error {
	metrics := observe.DefaultMetrics()
	if a.motion != nil {
		a.motion.Start()
		metrics.AddActiveDetectors(ctx, 1, detect.SourceCamera.String())
	}
	if a.sound != nil {
		if err := a.sound.Start(); err != nil {
			return fmt.Errorf("app: start sound detector: %w", err)
		}
		metrics.AddActiveDetectors(ctx, 1, detect.SourceMicrophone.String())
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.engine.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.writer.Run(ctx)
		return nil
	})
	if a.motion != nil {
		g.Go(func() error {
			a.pump(a.motion.Readings())
			return nil
		})
	}
	if a.sound != nil {
		g.Go(func() error {
			a.pump(a.sound.Readings())
			return nil
		})
	}

	// Stop the detectors on cancellation so the pumps' channels close.
	g.Go(func() error {
		<-ctx.Done()
		a.stopDetectors(context.WithoutCancel(ctx))
		return nil
	})

	if a.web != nil {
		g.Go(func() error {
			return a.web.Run(ctx)
		})
	}

	slog.Info("app running",
		"camera", a.motion != nil,
		"sound", a.sound != nil,
		"http", a.web != nil,
	)
	return g.Wait()
}

// pump forwards detector readings to the engine until the channel closes.
func (a *App) pump(readings <-chan detect.Reading) {
	for r := range readings {
		a.engine.SubmitLevel(r.Source, r.Value, r.ObservedAt)
	}
}

// ApplyConfig pushes a reloaded config into the running service: tunables
// take effect on the next submitted event, ROI and facing on the next
// analyzed frame. Structural settings (listen address, DSN, detector
// enablement) need a restart and are ignored here.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.runtime.Update(cfg)
	if a.rois != nil {
		if err := a.seedROIs(a.rois, cfg); err != nil {
			slog.Warn("config reload: roi update rejected", "err", err)
		}
	}
	slog.Info("config applied",
		"sensitivity", cfg.Detect.Sensitivity,
		"audio_threshold_db", cfg.Detect.AudioThresholdDB,
		"min_interval_ms", cfg.Detect.MinIntervalMs,
	)
}

// stopDetectors stops both detectors and adjusts the gauge, once. The sound
// detector is stopped before the pipe is closed: Stop closes the capture
// source itself, so a blocked read unwinds as a clean stop rather than a
// fault. The extra pipe Close just turns away late audio uploads. Runs from
// both the Run cancellation path and Shutdown; whichever arrives first wins.
func (a *App) stopDetectors(ctx context.Context) {
	a.detStopOnce.Do(func() {
		metrics := observe.DefaultMetrics()
		if a.sound != nil {
			a.sound.Stop()
			metrics.AddActiveDetectors(ctx, -1, detect.SourceMicrophone.String())
		}
		if a.audioPipe != nil {
			_ = a.audioPipe.Close()
		}
		if a.motion != nil {
			a.motion.Stop()
			metrics.AddActiveDetectors(ctx, -1, detect.SourceCamera.String())
		}
	})
}

// Shutdown stamps the open session closed and tears down the remaining
// subsystems in reverse-init order. It respects the context deadline: if ctx
// expires, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.stopDetectors(ctx)
		a.writer.Close()

		if err := a.engine.CloseSession(ctx); err != nil {
			slog.Warn("close session", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
