// Package stream owns the capture loop and the asynchronous hand-off to
// transcription, rate estimation, and profile learning.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/hexlattice/cadence/internal/calibrate"
	"github.com/hexlattice/cadence/internal/control"
	"github.com/hexlattice/cadence/internal/observe"
	"github.com/hexlattice/cadence/internal/profile"
	"github.com/hexlattice/cadence/internal/rate"
	"github.com/hexlattice/cadence/internal/turn"
	"github.com/hexlattice/cadence/pkg/audio"
	"github.com/hexlattice/cadence/pkg/provider/stt"
	"github.com/hexlattice/cadence/pkg/provider/vad"
)

// TurnResult is delivered downstream for every turn that reached the
// transcription worker.
type TurnResult struct {
	// Turn carries the timing metadata; its PCM is released after
	// transcription.
	Turn *turn.Turn

	// Text is the transcript, empty when transcription failed.
	Text string

	// Signal is the control command recognized in the transcript, if any.
	Signal control.Signal

	// Err is the transcription failure, nil on success. Failed turns still
	// contribute their pause timing to learning.
	Err error
}

// Config holds the coordinator's tunables. Zero values select defaults.
type Config struct {
	// UserID selects the speech profile to load and learn into.
	UserID string

	// QueueSize bounds the hand-off queue. Default 8.
	QueueSize int

	// SaveEvery is the profile save cadence in folded turns, bounding write
	// amplification. Calibration completion always saves immediately.
	// Default 5.
	SaveEvery int

	// LearningRate weights post-calibration folds. Default 0.1.
	LearningRate float64

	// Language hints the transcriber.
	Language string

	// MinSpeech, MaxTurnDuration, and MinSilenceFrames pass through to the
	// segmenter.
	MinSpeech        time.Duration
	MaxTurnDuration  time.Duration
	MinSilenceFrames int

	// Calibration configures the bootstrap window for uncalibrated users.
	Calibration calibrate.Config

	// Derive holds the threshold derivation constants.
	Derive profile.DeriveConfig
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.SaveEvery <= 0 {
		c.SaveEvery = 5
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.Derive == (profile.DeriveConfig{}) {
		c.Derive = profile.DefaultDeriveConfig()
	}
	c.Calibration.Derive = c.Derive
}

// Deps are the coordinator's collaborators.
type Deps struct {
	// Source supplies the capture stream.
	Source audio.Source

	// Classifier labels frames speech/silence.
	Classifier vad.SessionHandle

	// Transcriber turns completed turns into text.
	Transcriber stt.Transcriber

	// Store persists the user's profile.
	Store profile.Store

	// Detector recognizes voice control commands. Nil disables command
	// detection.
	Detector *control.Detector

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// OnTurn receives every processed turn. Called from the worker
	// goroutine; must not block for long.
	OnTurn func(TurnResult)
}

// Coordinator runs the capture loop and the transcription worker. The
// capture path never blocks on transcription, persistence, or callbacks;
// completed turns cross a bounded drop-oldest queue.
type Coordinator struct {
	cfg  Config
	deps Deps

	seg   *turn.Segmenter
	queue *handoffQueue
	est   *rate.Estimator

	// ctrl carries control signals into the capture loop, which is the only
	// goroutine that touches the segmenter.
	ctrl chan control.Signal

	// mu guards prof and session. The capture loop takes it only when a
	// pause opens, to snapshot thresholds; it is never held across frames.
	mu      sync.Mutex
	prof    *profile.Profile
	session *calibrate.Session

	foldsSinceSave int
}

// New validates deps and creates a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Source == nil || deps.Classifier == nil || deps.Transcriber == nil || deps.Store == nil {
		return nil, errors.New("stream: Source, Classifier, Transcriber, and Store are required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("stream: Config.UserID is required")
	}
	cfg.applyDefaults()
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	c := &Coordinator{
		cfg:   cfg,
		deps:  deps,
		queue: newHandoffQueue(cfg.QueueSize, deps.Metrics),
		est:   rate.NewEstimator(0),
		ctrl:  make(chan control.Signal, 4),
	}
	return c, nil
}

// Run loads the profile, then drives capture and the worker until the
// source ends or ctx is cancelled. Any open turn is flushed through the
// queue before the worker drains and exits.
func (c *Coordinator) Run(ctx context.Context) error {
	prof, err := c.deps.Store.Load(ctx, c.cfg.UserID)
	if err != nil {
		return fmt.Errorf("stream: load profile: %w", err)
	}
	c.mu.Lock()
	c.prof = prof
	if !prof.IsCalibrated {
		c.session = calibrate.NewSession(c.cfg.Calibration)
		slog.Info("starting calibration window", "user_id", c.cfg.UserID)
	}
	c.mu.Unlock()

	c.seg, err = turn.NewSegmenter(turn.Config{
		UserID:           c.cfg.UserID,
		Format:           c.deps.Source.Format(),
		Thresholds:       c.thresholds,
		MinSpeech:        c.cfg.MinSpeech,
		MaxTurnDuration:  c.cfg.MaxTurnDuration,
		MinSilenceFrames: c.cfg.MinSilenceFrames,
		OnDiscard: func(*turn.Turn) {
			c.deps.Metrics.RecordTurnDropped(ctx, "too_short")
		},
	})
	if err != nil {
		return err
	}

	c.deps.Metrics.ActiveStreams.Add(ctx, 1)
	defer c.deps.Metrics.ActiveStreams.Add(ctx, -1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.captureLoop(gctx) })
	g.Go(func() error { return c.worker(gctx) })
	err = g.Wait()

	// Final save regardless of cadence position.
	c.mu.Lock()
	c.saveLocked(context.WithoutCancel(ctx))
	c.mu.Unlock()
	return err
}

// StillThinking delivers the still-thinking control signal to the capture
// loop. Safe to call from any goroutine; never blocks.
func (c *Coordinator) StillThinking() { c.signal(control.SignalStillThinking) }

// Resume cancels an active still-thinking override.
func (c *Coordinator) Resume() { c.signal(control.SignalResume) }

func (c *Coordinator) signal(sig control.Signal) {
	select {
	case c.ctrl <- sig:
	default:
		slog.Warn("control channel full, signal dropped", "signal", sig.String())
	}
}

// Profile returns a snapshot of the current in-memory profile.
func (c *Coordinator) Profile() *profile.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prof.Clone()
}

// Calibrating reports whether the calibration window is still open.
func (c *Coordinator) Calibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// thresholds is the segmenter's snapshot source, invoked once per pause
// open. During calibration it widens the profile's thresholds.
func (c *Coordinator) thresholds() profile.Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	th := c.prof.Thresholds()
	if c.session != nil {
		th = c.session.Thresholds(th)
	}
	return th
}

// ── capture side ───────────────────────────────────────────────────────────

func (c *Coordinator) captureLoop(ctx context.Context) error {
	frames := c.deps.Source.Frames()
	for {
		select {
		case <-ctx.Done():
			c.flush(ctx)
			// The source keeps producing until it is closed; keep its
			// goroutine unblocked so it can see the close.
			go audio.Drain(frames)
			return ctx.Err()

		case sig := <-c.ctrl:
			c.applySignal(ctx, sig)

		case f, ok := <-frames:
			if !ok {
				c.flush(ctx)
				return c.deps.Source.Err()
			}
			c.processFrame(ctx, f)
		}
	}
}

func (c *Coordinator) processFrame(ctx context.Context, f audio.Frame) {
	res, err := c.deps.Classifier.Classify(f.Data)
	if err != nil {
		// Classification trouble reads as silence; the stream goes on.
		slog.Debug("classification failed, treating frame as silence", "error", err)
		res = vad.Result{Label: vad.Silence}
	}
	c.deps.Metrics.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("label", res.Label.String())),
	)

	t := c.seg.Process(f, res.Label)
	if t == nil {
		return
	}
	for _, p := range t.Pauses {
		c.deps.Metrics.RecordPause(ctx, p.Location.String(), p.Duration.Seconds())
	}
	c.deps.Metrics.RecordTurnCompleted(ctx, t.Reason.String(), t.SpeakingDuration.Seconds())
	c.queue.Push(ctx, t)
}

func (c *Coordinator) applySignal(ctx context.Context, sig control.Signal) {
	switch sig {
	case control.SignalStillThinking:
		c.seg.StillThinking()
	case control.SignalResume:
		c.seg.Resume()
	}
	c.deps.Metrics.RecordControlSignal(ctx, sig.String())
}

// flush pushes any open turn through the queue and closes it so the worker
// drains and exits.
func (c *Coordinator) flush(ctx context.Context) {
	if t := c.seg.Flush(); t != nil {
		c.deps.Metrics.RecordTurnCompleted(ctx, t.Reason.String(), t.SpeakingDuration.Seconds())
		c.queue.Push(ctx, t)
	}
	c.queue.Close()
}

// ── worker side ────────────────────────────────────────────────────────────

func (c *Coordinator) worker(ctx context.Context) error {
	for {
		t, ok := c.queue.Pop(ctx)
		if !ok {
			return nil
		}
		c.processTurn(ctx, t)
	}
}

func (c *Coordinator) processTurn(ctx context.Context, t *turn.Turn) {
	start := time.Now()
	tr, err := c.deps.Transcriber.Transcribe(ctx, t.PCM, stt.AudioConfig{
		SampleRate: c.deps.Source.Format().SampleRate,
		Channels:   1,
		Language:   c.cfg.Language,
	})
	c.deps.Metrics.STTDuration.Record(ctx, time.Since(start).Seconds())

	res := TurnResult{Turn: t}
	if err != nil {
		// The turn still folds its pause timing below; it just carries no
		// words.
		c.deps.Metrics.STTErrors.Add(ctx, 1)
		slog.Error("transcription failed", "turn_id", t.ID, "error", err)
		res.Err = err
	} else {
		t.WordCount = tr.WordCount
		res.Text = tr.Text
		if c.deps.Detector != nil {
			res.Signal = c.deps.Detector.Detect(tr.Text)
		}
	}

	switch res.Signal {
	case control.SignalStillThinking, control.SignalResume:
		c.signal(res.Signal)
	case control.SignalRecalibrate:
		c.recalibrate(ctx)
		c.deps.Metrics.RecordControlSignal(ctx, res.Signal.String())
	}

	c.fold(ctx, t)

	// The payload served transcription; timing metadata lives on.
	t.PCM = nil
	if c.deps.OnTurn != nil {
		c.deps.OnTurn(res)
	}
}

// SpeakingRate returns the running words-per-minute estimate over every
// transcribed turn this stream has processed, pauses excluded. ok is false
// until the first accepted rate sample.
func (c *Coordinator) SpeakingRate() (wpm float64, ok bool) {
	return c.est.WordsPerMinute()
}

// fold blends the turn into the calibration session or the live profile. The
// profile's WPM learns from the estimator's running average rather than the
// single turn, so one rushed or halting turn cannot yank the rate around;
// turns the estimator rejected (no words, or too short to carry signal)
// contribute no rate sample at all.
func (c *Coordinator) fold(ctx context.Context, t *turn.Turn) {
	sampled := c.est.Observe(t.WordCount, t.SpeakingDuration)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.ObserveTurn(t, t.WordCount)
		if !c.session.Done() {
			return
		}
		if err := c.session.Fold(c.prof); err != nil {
			slog.Error("calibration fold failed", "error", err)
			return
		}
		c.session = nil
		c.deps.Metrics.CalibrationsCompleted.Add(ctx, 1)
		c.saveLocked(ctx)
		return
	}

	obs := profile.Observation{Words: t.WordCount}
	obs.AvgWithinPause, obs.BetweenPause, obs.AvgThinkingPause = t.PauseStats()
	if sampled {
		if wpm, ok := c.est.WordsPerMinute(); ok {
			obs.WordsPerMinute = wpm
		}
	}
	c.prof.Fold(obs, c.cfg.LearningRate, c.cfg.Derive)

	c.foldsSinceSave++
	if c.foldsSinceSave >= c.cfg.SaveEvery {
		c.saveLocked(ctx)
	}
}

// recalibrate discards the learned state and reopens the calibration
// window.
func (c *Coordinator) recalibrate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slog.Info("recalibration requested", "user_id", c.cfg.UserID)
	words := c.prof.TotalWordsSpoken
	c.prof = profile.NewDefault(c.cfg.UserID)
	c.prof.TotalWordsSpoken = words
	c.session = calibrate.NewSession(c.cfg.Calibration)
	c.est.Reset()
	c.saveLocked(ctx)
}

// saveLocked persists the profile. On failure the in-memory profile stays
// authoritative and the cadence counter is left primed so the next fold
// retries. Callers hold the lock.
func (c *Coordinator) saveLocked(ctx context.Context) {
	if c.prof == nil {
		return
	}
	if err := c.deps.Store.Save(ctx, c.prof.Clone()); err != nil {
		c.deps.Metrics.ProfileSaveErrors.Add(ctx, 1)
		slog.Error("profile save failed, keeping in-memory state",
			"user_id", c.cfg.UserID,
			"error", err,
		)
		c.foldsSinceSave = c.cfg.SaveEvery
		return
	}
	c.foldsSinceSave = 0
}
