package vad

// Label is the classification result for a single frame.
type Label int

const (
	// Silence indicates no speech was detected in the frame.
	Silence Label = iota

	// Speech indicates the frame contains speech.
	Speech
)

// String returns "speech" or "silence".
func (l Label) String() string {
	if l == Speech {
		return "speech"
	}
	return "silence"
}

// Result is the outcome of classifying one frame.
type Result struct {
	// Label is the speech/silence decision after any smoothing the engine
	// applies.
	Label Label

	// Score is the engine's raw confidence or energy measure for the frame,
	// in the engine's native scale. Zero if the engine does not report one.
	Score float64
}
