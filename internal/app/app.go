// Package app wires all Cadence subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture pipeline and the HTTP server, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithSource, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hexlattice/cadence/internal/calibrate"
	"github.com/hexlattice/cadence/internal/config"
	"github.com/hexlattice/cadence/internal/control"
	"github.com/hexlattice/cadence/internal/health"
	"github.com/hexlattice/cadence/internal/observe"
	"github.com/hexlattice/cadence/internal/profile"
	profilepg "github.com/hexlattice/cadence/internal/profile/postgres"
	"github.com/hexlattice/cadence/internal/stream"
	"github.com/hexlattice/cadence/pkg/audio"
	"github.com/hexlattice/cadence/pkg/audio/wsstream"
	"github.com/hexlattice/cadence/pkg/provider/stt"
	sttopenai "github.com/hexlattice/cadence/pkg/provider/stt/openai"
	"github.com/hexlattice/cadence/pkg/provider/stt/whisper"
	"github.com/hexlattice/cadence/pkg/provider/vad"
	"github.com/hexlattice/cadence/pkg/provider/vad/energy"
)

// App owns all subsystem lifetimes and orchestrates the Cadence pipeline.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	store       profile.Store
	source      audio.Source
	classifier  vad.SessionHandle
	transcriber stt.Transcriber
	detector    *control.Detector
	metrics     *observe.Metrics
	coord       *stream.Coordinator
	httpSrv     *http.Server
	onTurn      func(stream.TurnResult)

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a profile store instead of creating one from config.
func WithStore(s profile.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSource injects a capture source instead of dialling the configured
// WebSocket gateway.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithClassifier injects a classification session instead of creating the
// configured engine.
func WithClassifier(s vad.SessionHandle) Option {
	return func(a *App) { a.classifier = s }
}

// WithTranscriber injects a transcriber instead of creating one from config.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithOnTurn registers a callback invoked for every processed turn.
func WithOnTurn(fn func(stream.TurnResult)) Option {
	return func(a *App) { a.onTurn = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously except the capture dial,
// which happens in Run: the gateway may not be up yet when the process
// starts, and a failed dial should not take down an otherwise healthy
// server.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics provider ──────────────────────────────────────────────
	if err := a.initMetrics(ctx); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}

	// ── 2. Profile store ─────────────────────────────────────────────────
	var pgStore *profilepg.Store
	if a.store == nil {
		store, err := a.buildStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: init profile store: %w", err)
		}
		a.store = store
		pgStore, _ = store.(*profilepg.Store)
	}

	// ── 3. Frame classifier ──────────────────────────────────────────────
	if a.classifier == nil {
		sess, err := a.buildClassifier()
		if err != nil {
			return nil, fmt.Errorf("app: init classifier: %w", err)
		}
		a.classifier = sess
		a.closers = append(a.closers, sess.Close)
	}

	// ── 4. Transcriber ───────────────────────────────────────────────────
	if a.transcriber == nil {
		tr, err := a.buildTranscriber()
		if err != nil {
			return nil, fmt.Errorf("app: init transcriber: %w", err)
		}
		a.transcriber = tr
	}

	// ── 5. Voice command detector ────────────────────────────────────────
	det, err := control.NewDetector(control.Config{
		ThinkingPhrases:    cfg.Commands.ThinkingPhrases,
		ResumePhrases:      cfg.Commands.ResumePhrases,
		RecalibratePhrases: cfg.Commands.RecalibratePhrases,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init command detector: %w", err)
	}
	a.detector = det

	// ── 6. HTTP server (health + metrics) ────────────────────────────────
	a.initHTTP(pgStore)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMetrics installs the OpenTelemetry meter provider with a Prometheus
// exporter and caches the instrument set.
func (a *App) initMetrics(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "cadence",
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})
	a.metrics = observe.DefaultMetrics()
	return nil
}

// buildStore creates the profile store selected by profiles.store.
func (a *App) buildStore(ctx context.Context) (profile.Store, error) {
	switch a.cfg.Profiles.Store {
	case config.StorePostgres:
		store, err := profilepg.NewStore(ctx, a.cfg.Profiles.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	case config.StoreFile:
		return profile.NewFileStore(a.cfg.Profiles.Dir)
	case config.StoreMemory, "":
		return profile.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", a.cfg.Profiles.Store)
	}
}

// buildClassifier creates the configured frame classifier and opens a
// session matched to the capture format.
func (a *App) buildClassifier() (vad.SessionHandle, error) {
	if name := a.cfg.Classifier.Name; name != "" && name != "energy" {
		return nil, fmt.Errorf("unknown classifier %q", name)
	}

	var opts []energy.Option
	if a.cfg.Classifier.EnergyGate > 0 {
		opts = append(opts, energy.WithGate(a.cfg.Classifier.EnergyGate))
	}
	if a.cfg.Classifier.SmoothingFrames > 0 {
		opts = append(opts, energy.WithSmoothingWindow(a.cfg.Classifier.SmoothingFrames))
	}
	eng, err := energy.New(opts...)
	if err != nil {
		return nil, err
	}

	format := a.captureFormat()
	return eng.NewSession(vad.Config{
		SampleRate:  format.SampleRate,
		FrameSizeMs: int(format.FrameDuration / time.Millisecond),
	})
}

// buildTranscriber creates the configured transcription backend.
func (a *App) buildTranscriber() (stt.Transcriber, error) {
	cfg := a.cfg.STT
	switch cfg.Name {
	case "whisper":
		var opts []whisper.Option
		if cfg.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.New(cfg.BaseURL, opts...)
	case "openai":
		var opts []sttopenai.Option
		if cfg.Model != "" {
			opts = append(opts, sttopenai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(cfg.BaseURL))
		}
		return sttopenai.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Name)
	}
}

// initHTTP assembles the health handler, the Prometheus scrape endpoint and
// the server around them. pgStore is nil unless the postgres backend is in
// use; when present it contributes a readiness check.
func (a *App) initHTTP(pgStore *profilepg.Store) {
	var checkers []health.Checker
	if pgStore != nil {
		checkers = append(checkers, health.Checker{
			Name:  "postgres",
			Check: pgStore.Ping,
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// captureFormat resolves the stream format from config, applying the
// pipeline defaults for unset fields.
func (a *App) captureFormat() audio.Format {
	f := audio.Format{
		SampleRate:    a.cfg.Capture.SampleRate,
		FrameDuration: a.cfg.Capture.FrameDuration.Std(),
	}
	if f.SampleRate == 0 {
		f.SampleRate = 16000
	}
	if f.FrameDuration == 0 {
		f.FrameDuration = 30 * time.Millisecond
	}
	return f
}

// deriveConfig resolves the threshold derivation constants, using the stock
// values for unset fields.
func (a *App) deriveConfig() profile.DeriveConfig {
	d := profile.DefaultDeriveConfig()
	t := a.cfg.Thresholds
	if t.Margin.Std() > 0 {
		d.Margin = t.Margin.Std()
	}
	if t.Floor.Std() > 0 {
		d.Floor = t.Floor.Std()
	}
	if t.ThinkingScale > 0 {
		d.ThinkingScale = t.ThinkingScale
	}
	if t.InterruptScale > 0 {
		d.InterruptScale = t.InterruptScale
	}
	return d
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run dials the capture gateway, starts the stream coordinator and the HTTP
// server, and blocks until ctx is cancelled or either component fails.
func (a *App) Run(ctx context.Context) error {
	// ── Capture source ───────────────────────────────────────────────────
	if a.source == nil {
		src, err := wsstream.Dial(ctx, a.cfg.Capture.WSURL, a.captureFormat())
		if err != nil {
			return fmt.Errorf("app: dial capture gateway: %w", err)
		}
		a.source = src
		slog.Info("capture stream connected", "url", a.cfg.Capture.WSURL)
	}
	a.closers = append(a.closers, a.source.Close)

	// ── Stream coordinator ───────────────────────────────────────────────
	coord, err := stream.New(stream.Config{
		UserID:           a.cfg.Capture.UserID,
		QueueSize:        a.cfg.Segmentation.QueueSize,
		SaveEvery:        a.cfg.Learning.SaveEvery,
		LearningRate:     a.cfg.Learning.Rate,
		Language:         a.cfg.STT.Language,
		MinSpeech:        a.cfg.Segmentation.MinSpeech.Std(),
		MaxTurnDuration:  a.cfg.Segmentation.MaxTurnDuration.Std(),
		MinSilenceFrames: a.cfg.Segmentation.MinSilenceFrames,
		Calibration: calibrate.Config{
			MinDuration: a.cfg.Calibration.MinDuration.Std(),
			MinWords:    a.cfg.Calibration.MinWords,
			WidenMargin: a.cfg.Calibration.WidenMargin.Std(),
		},
		Derive: a.deriveConfig(),
	}, stream.Deps{
		Source:      a.source,
		Classifier:  a.classifier,
		Transcriber: a.transcriber,
		Store:       a.store,
		Detector:    a.detector,
		Metrics:     a.metrics,
		OnTurn:      a.onTurn,
	})
	if err != nil {
		return fmt.Errorf("app: init coordinator: %w", err)
	}
	a.coord = coord

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(sctx)
	})

	g.Go(func() error {
		slog.Info("pipeline running", "user", a.cfg.Capture.UserID)
		return coord.Run(gctx)
	})

	return g.Wait()
}

// Coordinator returns the running stream coordinator, or nil before Run.
// Callers use it to forward control signals from outer surfaces.
func (a *App) Coordinator() *stream.Coordinator { return a.coord }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
