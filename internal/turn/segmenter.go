package turn

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hexlattice/cadence/internal/profile"
	"github.com/hexlattice/cadence/pkg/audio"
	"github.com/hexlattice/cadence/pkg/provider/vad"
)

// State is the segmentation engine's current phase.
type State int

const (
	// StateIdle: no turn open; waiting for speech.
	StateIdle State = iota

	// StateSpeaking: a turn is open and the user is speaking.
	StateSpeaking

	// StatePaused: a turn is open and a tracked pause is running.
	StatePaused
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Config holds the segmenter's fixed parameters.
type Config struct {
	// UserID is stamped onto every turn the segmenter opens.
	UserID string

	// Format is the capture stream's audio format.
	Format audio.Format

	// Thresholds supplies the current threshold snapshot. It is called
	// exactly once per pause, at the moment the pause opens, and the result
	// is held fixed for that pause's lifetime.
	Thresholds func() profile.Thresholds

	// MinSpeech is the minimum speaking duration for a turn to be worth
	// dispatching. Shorter turns keep waiting for more speech instead of
	// completing, and are discarded if the hard silence ceiling passes
	// first. Default 500ms.
	MinSpeech time.Duration

	// MaxTurnDuration force-completes a turn whose buffered speech reaches
	// this length, bounding memory during continuous speech. Default 30s.
	MaxTurnDuration time.Duration

	// MinSilenceFrames is the number of consecutive silence frames required
	// before a pause opens, suppressing classifier jitter. Default 2.
	MinSilenceFrames int

	// OnDiscard is invoked with each turn dropped without dispatch: a
	// fragment below MinSpeech abandoned at the silence ceiling or at flush.
	// Nil means discards are only logged.
	OnDiscard func(*Turn)
}

// Segmenter is the turn segmentation state machine:
//
//	IDLE --speech--> SPEAKING --silence×N--> PAUSED --speech--> SPEAKING
//	                                           └--threshold----> COMPLETE → IDLE
//
// It consumes one frame label per captured frame and returns a completed
// Turn when a completion decision fires. At most one turn is open at any
// instant.
//
// Segmenter is not safe for concurrent use: Process, StillThinking, Resume,
// Flush, and Reset must all be called from the capture loop goroutine. The
// stream coordinator delivers external control signals into that loop via a
// channel rather than calling across goroutines, keeping the capture path
// lock-free.
type Segmenter struct {
	cfg Config

	state   State
	current *Turn
	pause   *pauseTracker

	// silenceRun counts consecutive silence frames since the last speech
	// frame, used only for the jitter gate before a pause opens.
	silenceRun int

	// pendingOverride arms the still-thinking override for the next pause
	// when the signal arrives while no pause is active.
	pendingOverride bool
}

// NewSegmenter creates a Segmenter in StateIdle. cfg.Thresholds must be
// non-nil; zero-value timing fields get defaults.
func NewSegmenter(cfg Config) (*Segmenter, error) {
	if cfg.Thresholds == nil {
		return nil, fmt.Errorf("turn: Config.Thresholds must not be nil")
	}
	if cfg.Format.SampleRate <= 0 || cfg.Format.FrameDuration <= 0 {
		return nil, fmt.Errorf("turn: invalid audio format %+v", cfg.Format)
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = 500 * time.Millisecond
	}
	if cfg.MaxTurnDuration <= 0 {
		cfg.MaxTurnDuration = 30 * time.Second
	}
	if cfg.MinSilenceFrames <= 0 {
		cfg.MinSilenceFrames = 2
	}
	return &Segmenter{cfg: cfg}, nil
}

// State returns the segmenter's current phase.
func (s *Segmenter) State() State { return s.state }

// Process consumes one labelled frame and returns a completed Turn, or nil
// when no completion decision fired. The returned Turn's ownership passes to
// the caller; the segmenter is back in StateIdle and the next speech frame
// opens a new turn.
func (s *Segmenter) Process(f audio.Frame, label vad.Label) *Turn {
	if label == vad.Speech {
		return s.onSpeech(f)
	}
	return s.onSilence(f)
}

func (s *Segmenter) onSpeech(f audio.Frame) *Turn {
	s.silenceRun = 0
	frameDur := s.cfg.Format.FrameDuration

	switch s.state {
	case StateIdle:
		s.current = newTurn(s.cfg.UserID, f.Timestamp)
		s.state = StateSpeaking
		slog.Debug("turn opened", "turn_id", s.current.ID, "at", f.Timestamp)

	case StatePaused:
		// Speech resumed: the pause resolves as within-turn or thinking and
		// its override dies with it. The silent gap's audio was never
		// buffered, so the payload stays speech-only.
		ev := s.pause.resolveResumed()
		s.current.Pauses = append(s.current.Pauses, ev)
		s.pause = nil
		s.state = StateSpeaking
		slog.Debug("pause resolved",
			"turn_id", s.current.ID,
			"location", ev.Location.String(),
			"duration", ev.Duration,
		)
	}

	s.current.PCM = append(s.current.PCM, f.Data...)
	s.current.SpeakingDuration += frameDur
	s.current.End = f.Timestamp + frameDur

	if s.current.SpeakingDuration >= s.cfg.MaxTurnDuration {
		slog.Warn("max turn duration reached, forcing completion",
			"turn_id", s.current.ID,
			"speaking", s.current.SpeakingDuration,
		)
		return s.complete(ReasonMaxDuration)
	}
	return nil
}

func (s *Segmenter) onSilence(f audio.Frame) *Turn {
	frameDur := s.cfg.Format.FrameDuration

	switch s.state {
	case StateIdle:
		return nil

	case StateSpeaking:
		s.silenceRun++
		if s.silenceRun < s.cfg.MinSilenceFrames {
			return nil
		}
		// The jitter gate passed: open the pause retroactively at the first
		// silence frame so threshold timing counts the full run. The
		// snapshot taken here governs this pause for its entire life.
		start := f.Timestamp - time.Duration(s.cfg.MinSilenceFrames-1)*frameDur
		s.pause = openPause(start, s.cfg.Thresholds(), s.pendingOverride)
		s.pendingOverride = false
		s.pause.event.Duration = time.Duration(s.cfg.MinSilenceFrames) * frameDur
		s.state = StatePaused
		return s.evaluatePause()

	case StatePaused:
		s.pause.extend(frameDur)
		return s.evaluatePause()
	}
	return nil
}

// evaluatePause applies the pause tracker's verdict for the current silence
// length.
func (s *Segmenter) evaluatePause() *Turn {
	switch s.pause.check() {
	case pauseForce:
		if s.current.SpeakingDuration < s.cfg.MinSpeech {
			// Nothing worth dispatching was said; drop the fragment rather
			// than wait forever for speech that is not coming.
			slog.Debug("discarding sub-minimum turn at silence ceiling",
				"turn_id", s.current.ID,
				"speaking", s.current.SpeakingDuration,
			)
			s.discard()
			return nil
		}
		return s.complete(ReasonMaxSilence)

	case pauseComplete:
		if s.current.SpeakingDuration < s.cfg.MinSpeech {
			// Too short to be meaningful; keep listening.
			return nil
		}
		return s.complete(ReasonSilence)
	}
	return nil
}

// complete resolves any open pause as the turn-ending silence, closes the
// turn, and returns to StateIdle.
func (s *Segmenter) complete(reason CompleteReason) *Turn {
	t := s.current
	if s.pause != nil {
		t.Pauses = append(t.Pauses, s.pause.resolveCompleted())
	}
	t.Reason = reason
	s.reset()
	slog.Debug("turn complete",
		"turn_id", t.ID,
		"reason", reason.String(),
		"speaking", t.SpeakingDuration,
		"pauses", len(t.Pauses),
	)
	return t
}

// StillThinking activates the still-thinking override: the hard silence
// ceiling stands in for the silence threshold. It applies to the active
// pause, or to the next pause to open when none is active, and never
// persists past that pause.
func (s *Segmenter) StillThinking() {
	if s.pause != nil {
		s.pause.setOverride()
		return
	}
	s.pendingOverride = true
}

// Resume cancels any active or pending still-thinking override.
func (s *Segmenter) Resume() {
	s.pendingOverride = false
	if s.pause != nil {
		s.pause.clearOverride()
	}
}

// Flush completes and returns the open turn when the stream is ending, or
// nil when idle or when the open turn is below the minimum speaking
// duration.
func (s *Segmenter) Flush() *Turn {
	if s.state == StateIdle {
		return nil
	}
	if s.current.SpeakingDuration < s.cfg.MinSpeech {
		s.discard()
		return nil
	}
	return s.complete(ReasonFlush)
}

// Reset discards any open turn and pause and returns to StateIdle. Use when
// the audio stream is interrupted or restarted.
func (s *Segmenter) Reset() {
	s.reset()
	s.pendingOverride = false
}

// discard drops the open turn without dispatching it and notifies OnDiscard.
func (s *Segmenter) discard() {
	if s.cfg.OnDiscard != nil {
		s.cfg.OnDiscard(s.current)
	}
	s.reset()
}

func (s *Segmenter) reset() {
	s.state = StateIdle
	s.current = nil
	s.pause = nil
	s.silenceRun = 0
}
