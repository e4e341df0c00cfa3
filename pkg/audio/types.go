// Package audio defines the frame types and capture-source abstraction used
// by the Cadence turn-detection pipeline.
//
// Audio enters the system as a continuous stream of fixed-duration mono PCM
// frames. The capture device itself (microphone driver, remote socket, test
// harness) lives behind the [Source] interface; the pipeline only ever sees
// [Frame] values.
package audio

import "time"

// Frame is a single fixed-duration slice of 16-bit little-endian mono PCM.
// Frames are the atomic unit of classification: the frame classifier labels
// each one speech or silence, and the segmentation engine consumes nothing
// finer-grained.
//
// Frames are owned by the capture loop. Code that needs to retain PCM beyond
// the current loop iteration must copy Data.
type Frame struct {
	// PCM payload. Length must equal FrameBytes for the stream's format.
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the fixed audio format of a capture stream. All frames
// delivered by a [Source] share one Format.
type Format struct {
	// SampleRate in Hz. The pipeline default is 16000.
	SampleRate int

	// FrameDuration is the length of each frame. The pipeline default is 30ms.
	FrameDuration time.Duration
}

// FrameSamples returns the number of samples in one frame.
func (f Format) FrameSamples() int {
	return int(float64(f.SampleRate) * f.FrameDuration.Seconds())
}

// FrameBytes returns the byte length of one frame of 16-bit PCM.
func (f Format) FrameBytes() int {
	return f.FrameSamples() * 2
}

// Source supplies a continuous sequence of capture frames. The device
// lifecycle (opening the microphone, the network socket, …) is managed by
// the implementation; the pipeline consumes Frames as an opaque stream.
//
// Implementations close the Frames channel when the stream ends, whether
// normally or due to an error. After the channel is closed, Err reports the
// terminal error, if any.
type Source interface {
	// Format returns the fixed format of every frame this source delivers.
	Format() Format

	// Frames returns the channel of captured frames. The channel is closed
	// when the source stops.
	Frames() <-chan Frame

	// Err returns the error that terminated the stream, or nil if the stream
	// ended cleanly. Valid only after the Frames channel is closed.
	Err() error

	// Close stops capture and releases device resources. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a source must be abandoned
// mid-stream.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
