// Package turn implements speech-turn segmentation: the pause tracker that
// converts frame labels into classified PauseEvents, and the state machine
// that decides when a spoken turn is complete.
//
// The package is driven synchronously, one frame at a time, by the stream
// coordinator's capture loop. Nothing here blocks, allocates per frame
// beyond turn buffering, or takes a lock — all timing is derived from frame
// counts, never from wall-clock reads, so segmentation is deterministic and
// testable without sleeping.
package turn

import (
	"time"

	"github.com/google/uuid"
)

// PauseLocation classifies a resolved pause.
type PauseLocation int

const (
	// LocationUnresolved is the zero value for a pause that has not resolved
	// yet.
	LocationUnresolved PauseLocation = iota

	// LocationWithinTurn is a short mid-sentence pause (a breath, a brief
	// hesitation) after which speech resumed.
	LocationWithinTurn

	// LocationBetweenTurn is the closing silence that completed a turn.
	LocationBetweenTurn

	// LocationThinking is a long pause, past the thinking threshold, after
	// which speech resumed.
	LocationThinking
)

// String returns the snake_case name used in logs and metrics.
func (l PauseLocation) String() string {
	switch l {
	case LocationWithinTurn:
		return "within_turn"
	case LocationBetweenTurn:
		return "between_turn"
	case LocationThinking:
		return "thinking"
	default:
		return "unresolved"
	}
}

// PauseEvent is one tracked silence run. It opens on the first qualifying
// silence frame after speech, grows while silence continues, and resolves
// exactly once — either on speech resumption or on turn completion. Location
// is set at resolution and never changed afterwards.
type PauseEvent struct {
	// Start is the pause's onset, as an offset from stream start.
	Start time.Duration

	// Duration is the length of the silence run at resolution time.
	Duration time.Duration

	// Location is the pause's classified role. LocationUnresolved until the
	// pause resolves.
	Location PauseLocation

	// Resolved is true once Location has been assigned.
	Resolved bool
}

// CompleteReason records why a turn was completed.
type CompleteReason int

const (
	// ReasonSilence: the closing pause crossed the silence threshold.
	ReasonSilence CompleteReason = iota

	// ReasonMaxSilence: the hard silence ceiling forced completion,
	// overriding any still-thinking signal.
	ReasonMaxSilence

	// ReasonMaxDuration: the turn hit the maximum buffered duration and was
	// force-completed to bound memory.
	ReasonMaxDuration

	// ReasonFlush: the stream ended with the turn still open.
	ReasonFlush
)

// String returns the snake_case name used in logs and metrics.
func (r CompleteReason) String() string {
	switch r {
	case ReasonMaxSilence:
		return "max_silence"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonFlush:
		return "flush"
	default:
		return "silence"
	}
}

// Turn is one continuous user speech segment. Internal pauses are part of
// the turn semantically, but their audio is excluded from PCM — the
// transcriber only sees speech, while the pause durations are retained in
// Pauses for calibration statistics.
//
// A Turn is owned by the segmenter while open; ownership transfers to the
// stream coordinator's dispatch queue on completion.
type Turn struct {
	// ID is a unique identifier assigned when the turn opens.
	ID string

	// UserID identifies the speaker.
	UserID string

	// PCM is the buffered speech audio, pause gaps excluded.
	PCM []byte

	// Start and End are offsets from stream start.
	Start time.Duration
	End   time.Duration

	// SpeakingDuration is the total speech time, pauses excluded.
	SpeakingDuration time.Duration

	// Pauses holds every resolved PauseEvent the turn produced, including
	// the closing between-turn pause.
	Pauses []PauseEvent

	// Reason records what completed the turn.
	Reason CompleteReason

	// WordCount is populated by the worker after transcription; zero until
	// then.
	WordCount int
}

// newTurn opens a turn starting at the given stream offset.
func newTurn(userID string, start time.Duration) *Turn {
	return &Turn{
		ID:     uuid.NewString(),
		UserID: userID,
		Start:  start,
	}
}

// PauseStats summarises a turn's resolved pauses per category: the mean
// within and thinking pause, and the closing between-turn silence. Zero
// values mean the turn produced no pause of that kind.
func (t *Turn) PauseStats() (avgWithin, between, avgThinking time.Duration) {
	var withinSum, thinkingSum time.Duration
	var withinN, thinkingN int
	for _, p := range t.Pauses {
		switch p.Location {
		case LocationWithinTurn:
			withinSum += p.Duration
			withinN++
		case LocationThinking:
			thinkingSum += p.Duration
			thinkingN++
		case LocationBetweenTurn:
			between = p.Duration
		}
	}
	if withinN > 0 {
		avgWithin = withinSum / time.Duration(withinN)
	}
	if thinkingN > 0 {
		avgThinking = thinkingSum / time.Duration(thinkingN)
	}
	return avgWithin, between, avgThinking
}
