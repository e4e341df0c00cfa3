// Package calibrate bootstraps a user's speech profile from a bounded
// window of live usage.
package calibrate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hexlattice/cadence/internal/profile"
	"github.com/hexlattice/cadence/internal/turn"
)

// Defaults for the calibration window.
const (
	// DefaultMinDuration is the minimum wall time before calibration may
	// complete.
	DefaultMinDuration = 60 * time.Second

	// DefaultMinWords is the minimum transcribed word count before
	// calibration may complete. If the duration elapses first the window
	// extends until enough words arrive.
	DefaultMinWords = 40

	// DefaultWidenMargin is added to the silence and thinking thresholds
	// while calibrating, so early noisy behavior does not truncate turns.
	DefaultWidenMargin = 500 * time.Millisecond
)

// ErrAlreadyFolded is returned by Fold when the session has already been
// folded into a profile.
var ErrAlreadyFolded = errors.New("calibrate: session already folded")

// Config holds the calibration window parameters. Zero values select the
// defaults.
type Config struct {
	MinDuration time.Duration
	MinWords    int
	WidenMargin time.Duration
	Derive      profile.DeriveConfig
}

func (c *Config) applyDefaults() {
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.MinWords <= 0 {
		c.MinWords = DefaultMinWords
	}
	if c.WidenMargin <= 0 {
		c.WidenMargin = DefaultWidenMargin
	}
	if c.Derive == (profile.DeriveConfig{}) {
		c.Derive = profile.DefaultDeriveConfig()
	}
}

// Option configures a Session.
type Option func(*Session)

// WithClock swaps the session's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session accumulates turn statistics during the calibration window.
// Statistics are append-only until Fold, which happens exactly once.
//
// Session is not safe for concurrent use; the stream coordinator's worker
// goroutine is its sole caller.
type Session struct {
	cfg Config
	now func() time.Time

	startedAt time.Time
	words     int
	speaking  time.Duration
	turns     int
	samples   map[turn.PauseLocation][]time.Duration
	folded    bool
}

// NewSession opens a calibration window starting now.
func NewSession(cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:     cfg,
		now:     time.Now,
		samples: make(map[turn.PauseLocation][]time.Duration),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s
}

// Thresholds widens a profile's threshold snapshot for use during the
// window. The hard ceiling is untouched.
func (s *Session) Thresholds(base profile.Thresholds) profile.Thresholds {
	return base.Widened(s.cfg.WidenMargin)
}

// ObserveTurn folds one completed turn's pause events, speaking time, and
// transcribed word count into the session. Pass words = 0 when transcription
// failed; the pause data still counts, but the turn contributes nothing to
// the rate estimate — its speaking time stays out of the WPM denominator.
func (s *Session) ObserveTurn(t *turn.Turn, words int) {
	if s.folded {
		return
	}
	s.turns++
	if words > 0 {
		s.words += words
		s.speaking += t.SpeakingDuration
	}
	for _, p := range t.Pauses {
		if !p.Resolved {
			continue
		}
		s.samples[p.Location] = append(s.samples[p.Location], p.Duration)
	}
	slog.Debug("calibration sample",
		"turns", s.turns,
		"words", s.words,
		"elapsed", s.Elapsed(),
	)
}

// Elapsed returns the time since the window opened.
func (s *Session) Elapsed() time.Duration {
	return s.now().Sub(s.startedAt)
}

// Words returns the transcribed words accumulated so far.
func (s *Session) Words() int { return s.words }

// Done reports whether both completion criteria are met. Time alone never
// completes the window.
func (s *Session) Done() bool {
	return s.Elapsed() >= s.cfg.MinDuration && s.words >= s.cfg.MinWords
}

// Fold writes the session's statistics into p, derives fresh thresholds,
// and marks the profile calibrated. A session folds at most once; repeat
// calls return ErrAlreadyFolded. Pause categories with no samples leave the
// profile's existing averages in place rather than dragging them to zero.
func (s *Session) Fold(p *profile.Profile) error {
	if s.folded {
		return ErrAlreadyFolded
	}
	if !s.Done() {
		return fmt.Errorf("calibrate: window incomplete: %v elapsed, %d words", s.Elapsed(), s.words)
	}
	s.folded = true

	obs := profile.Observation{
		AvgWithinPause:   mean(s.samples[turn.LocationWithinTurn]),
		BetweenPause:     mean(s.samples[turn.LocationBetweenTurn]),
		AvgThinkingPause: mean(s.samples[turn.LocationThinking]),
		Words:            s.words,
	}
	if s.speaking > 0 {
		obs.WordsPerMinute = float64(s.words) / s.speaking.Minutes()
	}

	// Learning rate 1.0: calibration replaces whatever the profile held.
	p.Fold(obs, 1.0, s.cfg.Derive)
	p.IsCalibrated = true

	slog.Info("calibration complete",
		"user_id", p.UserID,
		"turns", s.turns,
		"words", s.words,
		"wpm", p.WordsPerMinute,
		"silence_threshold", p.SilenceThreshold,
		"thinking_threshold", p.ThinkingThreshold,
		"max_silence", p.MaxSilence,
	)
	return nil
}

// Folded reports whether Fold has already run.
func (s *Session) Folded() bool { return s.folded }

func mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples))
}
