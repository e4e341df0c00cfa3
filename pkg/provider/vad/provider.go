// Package vad defines the Engine interface for frame-level speech detection
// backends.
//
// A VAD engine wraps a speech/silence classifier (an energy gate, WebRTC VAD,
// a Silero-style model server, …) and surfaces it as a stateful, per-stream
// session. Each session maintains its own smoothing state so that multiple
// concurrent audio streams can be classified independently.
//
// Classification is synchronous by design: Classify returns immediately with
// a label for the frame. The segmentation engine calls it once per captured
// frame, so an implementation must complete well within one frame duration —
// it must never block on I/O or external services.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to Classify. The pipeline default is 16000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// Classify returns an error if the supplied frame does not match this
	// size. The pipeline default is 30.
	FrameSizeMs int
}

// SessionHandle represents an active classification session for a single
// audio stream. It is an interface so that test code can supply mock
// implementations without a live engine. Each session maintains its own
// smoothing state; Reset clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Classify labels a single audio frame. The frame must be raw 16-bit
	// little-endian mono PCM at the SampleRate and FrameSizeMs configured
	// when the session was created. Returns an error if the frame size is
	// wrong or the engine encounters an internal failure.
	//
	// Classify is called synchronously from the capture loop; it must not
	// block.
	Classify(frame []byte) (Result, error)

	// Reset clears all accumulated smoothing state without closing the
	// session. Use this when the audio stream is interrupted or restarted so
	// stale state from the previous segment does not affect subsequent
	// frames.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// Classify and Reset must return errors or be no-ops. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Engine is the factory for classification sessions. It is the top-level
// interface implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new classification session with the given
	// configuration. The session is immediately ready to accept frames.
	//
	// Returns an error if the configuration is invalid (unsupported sample
	// rate or frame size) or if the engine cannot allocate resources.
	NewSession(cfg Config) (SessionHandle, error)
}
