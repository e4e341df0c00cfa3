// Package profile holds the durable per-user speech profile: learned pause
// averages, speaking rate, and the turn-taking thresholds derived from them.
//
// A Profile is created with conservative defaults on first contact with a
// user id, replaced wholesale when the user's calibration session folds, and
// thereafter nudged by a small exponential moving average after every
// transcribed turn. The capture path never mutates a Profile — it reads an
// immutable [Thresholds] snapshot at the moment a pause opens and holds it
// for that pause's lifetime.
//
// Every update path funnels through [Profile.Normalize], which enforces the
// ordering invariant silence ≤ thinking ≤ max-silence.
package profile

import "time"

// Built-in defaults, used for a fresh uncalibrated profile and as fallbacks
// when a calibration window produced no samples for a pause category.
const (
	// DefaultSilenceThreshold is the silence run length that completes a turn
	// before any calibration has happened.
	DefaultSilenceThreshold = 1500 * time.Millisecond

	// DefaultThinkingThreshold is the silence run length past which a
	// resumed pause counts as a thinking pause.
	DefaultThinkingThreshold = 3 * time.Second

	// DefaultMaxSilence is the hard ceiling: silence past this completes the
	// turn unconditionally, overriding any still-thinking signal.
	DefaultMaxSilence = 5 * time.Second

	// DefaultAvgWithinPause seeds the within-turn pause average.
	DefaultAvgWithinPause = 500 * time.Millisecond

	// DefaultAvgBetweenPause seeds the between-turn pause average.
	DefaultAvgBetweenPause = time.Second

	// DefaultAvgThinkingPause seeds the thinking pause average.
	DefaultAvgThinkingPause = 2 * time.Second

	// DefaultWordsPerMinute is an average conversational speaking rate.
	DefaultWordsPerMinute = 150.0
)

// Profile is one user's speech pacing record. One record per user id;
// persists across sessions via a [Store].
type Profile struct {
	// UserID identifies the user this profile belongs to.
	UserID string

	// AvgWithinPause is the mean duration of pauses the user takes
	// mid-sentence (breaths, short hesitations).
	AvgWithinPause time.Duration

	// AvgBetweenPause is the mean duration of the silences that actually
	// ended a turn.
	AvgBetweenPause time.Duration

	// AvgThinkingPause is the mean duration of long pauses after which the
	// user resumed speaking.
	AvgThinkingPause time.Duration

	// WordsPerMinute is the user's speaking rate over speaking time, pauses
	// excluded.
	WordsPerMinute float64

	// SilenceThreshold is the silence run length that completes a turn.
	SilenceThreshold time.Duration

	// ThinkingThreshold is the silence run length past which a resumed pause
	// is classified as thinking rather than within-turn.
	ThinkingThreshold time.Duration

	// MaxSilence is the unconditional completion ceiling.
	MaxSilence time.Duration

	// IsCalibrated is true once a calibration session has folded into this
	// profile.
	IsCalibrated bool

	// TotalWordsSpoken counts transcribed words across the profile's life.
	TotalWordsSpoken int

	// LastUpdated is the time of the most recent mutation.
	LastUpdated time.Time
}

// NewDefault returns a fresh uncalibrated profile for userID with the
// built-in defaults.
func NewDefault(userID string) *Profile {
	return &Profile{
		UserID:            userID,
		AvgWithinPause:    DefaultAvgWithinPause,
		AvgBetweenPause:   DefaultAvgBetweenPause,
		AvgThinkingPause:  DefaultAvgThinkingPause,
		WordsPerMinute:    DefaultWordsPerMinute,
		SilenceThreshold:  DefaultSilenceThreshold,
		ThinkingThreshold: DefaultThinkingThreshold,
		MaxSilence:        DefaultMaxSilence,
	}
}

// Thresholds is an immutable snapshot of the three turn-taking thresholds.
// The segmentation engine takes one snapshot when a pause opens and holds it
// fixed for that pause's lifetime, so a profile update mid-pause never
// changes an in-progress decision.
type Thresholds struct {
	// Silence completes the turn when exceeded without resumption.
	Silence time.Duration

	// Thinking classifies a resumed pause as a thinking pause.
	Thinking time.Duration

	// MaxSilence completes the turn unconditionally.
	MaxSilence time.Duration
}

// Thresholds returns the profile's current threshold snapshot.
func (p *Profile) Thresholds() Thresholds {
	return Thresholds{
		Silence:    p.SilenceThreshold,
		Thinking:   p.ThinkingThreshold,
		MaxSilence: p.MaxSilence,
	}
}

// Widened returns a copy with margin added to the silence and thinking
// thresholds. Used during calibration so early noisy behaviour does not
// truncate turns prematurely. MaxSilence is raised only as far as the
// ordering invariant requires.
func (t Thresholds) Widened(margin time.Duration) Thresholds {
	w := Thresholds{
		Silence:    t.Silence + margin,
		Thinking:   t.Thinking + margin,
		MaxSilence: t.MaxSilence,
	}
	if w.MaxSilence < w.Thinking {
		w.MaxSilence = w.Thinking
	}
	return w
}

// Normalize clamps the thresholds so that
// 0 ≤ SilenceThreshold ≤ ThinkingThreshold ≤ MaxSilence holds. Called by
// every update path; a profile loaded from storage is normalized too, so a
// hand-edited or corrupted record cannot wedge the state machine.
func (p *Profile) Normalize() {
	if p.SilenceThreshold < 0 {
		p.SilenceThreshold = 0
	}
	if p.ThinkingThreshold < p.SilenceThreshold {
		p.ThinkingThreshold = p.SilenceThreshold
	}
	if p.MaxSilence < p.ThinkingThreshold {
		p.MaxSilence = p.ThinkingThreshold
	}
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	cp := *p
	return &cp
}
