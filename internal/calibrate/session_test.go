package calibrate

import (
	"errors"
	"testing"
	"time"

	"github.com/hexlattice/cadence/internal/profile"
	"github.com/hexlattice/cadence/internal/turn"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSession(cfg Config) (*Session, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return NewSession(cfg, WithClock(clock.now)), clock
}

func syntheticTurn(speaking time.Duration, pauses ...turn.PauseEvent) *turn.Turn {
	return &turn.Turn{
		UserID:           "user-1",
		SpeakingDuration: speaking,
		Pauses:           pauses,
	}
}

func resolved(loc turn.PauseLocation, d time.Duration) turn.PauseEvent {
	return turn.PauseEvent{Duration: d, Location: loc, Resolved: true}
}

// ── completion criteria ────────────────────────────────────────────────────

func TestSessionCompletion(t *testing.T) {
	t.Parallel()

	t.Run("time alone does not complete", func(t *testing.T) {
		t.Parallel()
		s, clock := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 20})
		clock.advance(time.Minute)
		if s.Done() {
			t.Fatal("window must extend until the word minimum is met")
		}
	})

	t.Run("words alone do not complete", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 20})
		s.ObserveTurn(syntheticTurn(10*time.Second), 100)
		if s.Done() {
			t.Fatal("window must run for the minimum duration")
		}
	})

	t.Run("both criteria complete", func(t *testing.T) {
		t.Parallel()
		s, clock := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 20})
		s.ObserveTurn(syntheticTurn(10*time.Second), 25)
		clock.advance(11 * time.Second)
		if !s.Done() {
			t.Fatal("expected completion with both minimums met")
		}
	})

	t.Run("failed transcription still collects pauses", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestSession(Config{})
		s.ObserveTurn(syntheticTurn(
			2*time.Second,
			resolved(turn.LocationBetweenTurn, time.Second),
		), 0)
		if s.Words() != 0 {
			t.Errorf("words = %d, want 0", s.Words())
		}
		if got := len(s.samples[turn.LocationBetweenTurn]); got != 1 {
			t.Errorf("between samples = %d, want 1", got)
		}
	})

	t.Run("unresolved pauses are ignored", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestSession(Config{})
		s.ObserveTurn(syntheticTurn(
			2*time.Second,
			turn.PauseEvent{Duration: time.Second},
		), 5)
		if got := len(s.samples[turn.LocationUnresolved]); got != 0 {
			t.Errorf("unresolved samples = %d, want 0", got)
		}
	})
}

// ── threshold derivation ───────────────────────────────────────────────────

func TestSessionFoldDerivesThresholds(t *testing.T) {
	t.Parallel()
	s, clock := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 20})

	// Twelve turns: between-turn pauses averaging 1.2s, thinking pauses
	// averaging 2.8s, 10 words over 4s of speech each.
	for i := 0; i < 12; i++ {
		between := 1100 * time.Millisecond
		thinking := 2600 * time.Millisecond
		if i%2 == 0 {
			between = 1300 * time.Millisecond
			thinking = 3 * time.Second
		}
		s.ObserveTurn(syntheticTurn(
			4*time.Second,
			resolved(turn.LocationThinking, thinking),
			resolved(turn.LocationBetweenTurn, between),
		), 10)
	}
	clock.advance(time.Minute)

	p := profile.NewDefault("user-1")
	if err := s.Fold(p); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	if !p.IsCalibrated {
		t.Error("profile should be calibrated after fold")
	}
	if want := 1700 * time.Millisecond; p.SilenceThreshold != want {
		t.Errorf("silence threshold = %v, want %v", p.SilenceThreshold, want)
	}
	if want := 2240 * time.Millisecond; p.ThinkingThreshold != want {
		t.Errorf("thinking threshold = %v, want %v", p.ThinkingThreshold, want)
	}
	if want := 4200 * time.Millisecond; p.MaxSilence != want {
		t.Errorf("max silence = %v, want %v", p.MaxSilence, want)
	}
	// 120 words over 48s of speech.
	if want := 150.0; p.WordsPerMinute != want {
		t.Errorf("wpm = %v, want %v", p.WordsPerMinute, want)
	}
	if p.TotalWordsSpoken != 120 {
		t.Errorf("total words = %d, want 120", p.TotalWordsSpoken)
	}
}

func TestSessionFoldExcludesUntranscribedSpeakingTime(t *testing.T) {
	t.Parallel()
	s, clock := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 20})

	// One transcribed turn and one whose transcription failed, equal length.
	// The failed turn's pauses count; its speaking time must not land in the
	// WPM denominator.
	s.ObserveTurn(syntheticTurn(
		48*time.Second,
		resolved(turn.LocationBetweenTurn, time.Second),
	), 120)
	s.ObserveTurn(syntheticTurn(
		48*time.Second,
		resolved(turn.LocationBetweenTurn, 1400*time.Millisecond),
	), 0)
	clock.advance(time.Minute)

	p := profile.NewDefault("user-1")
	if err := s.Fold(p); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	// 120 words over the 48s of transcribed speech, not over 96s.
	if want := 150.0; p.WordsPerMinute != want {
		t.Errorf("wpm = %v, want %v", p.WordsPerMinute, want)
	}
	// Both turns' closing silences still average in.
	if want := 1200 * time.Millisecond; p.AvgBetweenPause != want {
		t.Errorf("avg between = %v, want %v", p.AvgBetweenPause, want)
	}
}

func TestSessionFoldEmptyCategories(t *testing.T) {
	t.Parallel()
	s, clock := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 20})

	// Only between-turn pauses; no within or thinking samples anywhere.
	for i := 0; i < 5; i++ {
		s.ObserveTurn(syntheticTurn(
			4*time.Second,
			resolved(turn.LocationBetweenTurn, time.Second),
		), 10)
	}
	clock.advance(time.Minute)

	p := profile.NewDefault("user-1")
	if err := s.Fold(p); err != nil {
		t.Fatalf("Fold: %v", err)
	}

	// Untouched categories keep the built-in defaults.
	if p.AvgWithinPause != profile.DefaultAvgWithinPause {
		t.Errorf("avg within = %v, want default %v", p.AvgWithinPause, profile.DefaultAvgWithinPause)
	}
	if p.AvgThinkingPause != profile.DefaultAvgThinkingPause {
		t.Errorf("avg thinking = %v, want default %v", p.AvgThinkingPause, profile.DefaultAvgThinkingPause)
	}
	if p.AvgBetweenPause != time.Second {
		t.Errorf("avg between = %v, want 1s", p.AvgBetweenPause)
	}
}

// ── fold-once ──────────────────────────────────────────────────────────────

func TestSessionFoldOnce(t *testing.T) {
	t.Parallel()
	s, clock := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 5})
	s.ObserveTurn(syntheticTurn(4*time.Second, resolved(turn.LocationBetweenTurn, time.Second)), 10)
	clock.advance(time.Minute)

	p := profile.NewDefault("user-1")
	if err := s.Fold(p); err != nil {
		t.Fatalf("first Fold: %v", err)
	}
	snapshot := p.Clone()

	if err := s.Fold(p); !errors.Is(err, ErrAlreadyFolded) {
		t.Fatalf("second Fold err = %v, want ErrAlreadyFolded", err)
	}
	if *p != *snapshot {
		t.Error("rejected fold must not mutate the profile")
	}
	if !s.Folded() {
		t.Error("Folded() should report true")
	}
}

func TestSessionFoldIncomplete(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(Config{MinDuration: 10 * time.Second, MinWords: 20})
	if err := s.Fold(profile.NewDefault("user-1")); err == nil {
		t.Fatal("folding an incomplete window must fail")
	}
}

// ── widened thresholds ─────────────────────────────────────────────────────

func TestSessionThresholds(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(Config{})
	base := profile.Thresholds{
		Silence:    1500 * time.Millisecond,
		Thinking:   3 * time.Second,
		MaxSilence: 5 * time.Second,
	}
	got := s.Thresholds(base)
	if want := 2 * time.Second; got.Silence != want {
		t.Errorf("widened silence = %v, want %v", got.Silence, want)
	}
	if want := 3500 * time.Millisecond; got.Thinking != want {
		t.Errorf("widened thinking = %v, want %v", got.Thinking, want)
	}
	if got.MaxSilence != base.MaxSilence {
		t.Errorf("ceiling = %v, want unchanged %v", got.MaxSilence, base.MaxSilence)
	}
}
