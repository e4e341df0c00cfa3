// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Cadence transcribes whole turns, not live streams: the segmentation engine
// decides where a turn ends, and only then is its buffered audio submitted
// for transcription on the asynchronous worker path. The Transcriber
// abstraction is therefore batch-shaped — one call per completed turn — which
// keeps every network round-trip off the real-time capture path.
//
// Implementations must be safe for concurrent use; the stream coordinator may
// run more than one transcription worker.
package stt

import (
	"context"
	"strings"
	"time"
)

// AudioConfig describes the PCM format of the audio payload passed to
// Transcribe.
type AudioConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels. Cadence always submits mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// Transcript is the result of transcribing one turn's audio.
type Transcript struct {
	// Text is the transcribed speech content, whitespace-trimmed.
	Text string

	// WordCount is the number of words in Text. Providers that do not report
	// word counts derive it with [CountWords].
	WordCount int

	// Duration is the audio duration the provider reports for the payload.
	// Zero if the provider does not report one.
	Duration time.Duration
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts one turn's raw 16-bit little-endian PCM audio to
	// text. It blocks until the provider responds or ctx is cancelled.
	//
	// An empty transcript with a nil error is a valid result (the audio
	// contained no recognisable speech).
	Transcribe(ctx context.Context, pcm []byte, cfg AudioConfig) (Transcript, error)
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
