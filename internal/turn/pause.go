package turn

import (
	"time"

	"github.com/hexlattice/cadence/internal/profile"
)

// pauseTracker accumulates a single silence run into a PauseEvent and
// decides how it resolves. One tracker exists per open pause; the segmenter
// creates a fresh one each time a pause opens, seeding it with the threshold
// snapshot taken at that moment. A profile update mid-pause therefore never
// changes an in-progress decision.
type pauseTracker struct {
	event      PauseEvent
	thresholds profile.Thresholds

	// override is true when a still-thinking signal is active for this
	// pause. It substitutes MaxSilence for the silence threshold; it never
	// carries over to the next pause.
	override bool
}

// openPause starts tracking a silence run beginning at start.
func openPause(start time.Duration, th profile.Thresholds, override bool) *pauseTracker {
	return &pauseTracker{
		event:      PauseEvent{Start: start},
		thresholds: th,
		override:   override,
	}
}

// extend grows the silence run by one frame duration.
func (p *pauseTracker) extend(frame time.Duration) {
	p.event.Duration += frame
}

// setOverride activates the still-thinking override for this pause.
func (p *pauseTracker) setOverride() { p.override = true }

// clearOverride cancels the override (the "resume" control signal).
func (p *pauseTracker) clearOverride() { p.override = false }

// pauseOutcome is the pause tracker's per-frame verdict while silence
// continues.
type pauseOutcome int

const (
	// pauseContinue: no threshold crossed; keep accumulating silence.
	pauseContinue pauseOutcome = iota

	// pauseComplete: the effective silence threshold was crossed; the turn
	// is done.
	pauseComplete

	// pauseForce: the hard ceiling was crossed; the turn is done regardless
	// of any override.
	pauseForce
)

// check evaluates the silence run against the snapshot thresholds. With the
// still-thinking override active, the hard ceiling stands in for the silence
// threshold, so only pauseForce can end the turn.
func (p *pauseTracker) check() pauseOutcome {
	if p.event.Duration >= p.thresholds.MaxSilence {
		return pauseForce
	}
	if !p.override && p.event.Duration >= p.thresholds.Silence {
		return pauseComplete
	}
	return pauseContinue
}

// resolveResumed closes the pause because speech resumed: thinking when the
// run exceeded the thinking threshold, within-turn otherwise. Resolution
// happens exactly once; Location is never rewritten.
func (p *pauseTracker) resolveResumed() PauseEvent {
	loc := LocationWithinTurn
	if p.event.Duration > p.thresholds.Thinking {
		loc = LocationThinking
	}
	return p.resolve(loc)
}

// resolveCompleted closes the pause as the turn-ending silence.
func (p *pauseTracker) resolveCompleted() PauseEvent {
	return p.resolve(LocationBetweenTurn)
}

func (p *pauseTracker) resolve(loc PauseLocation) PauseEvent {
	p.event.Location = loc
	p.event.Resolved = true
	return p.event
}
