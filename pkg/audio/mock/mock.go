// Package mock provides a scripted test double for the audio package's
// Source interface.
//
// A Source is constructed with a fixed format and fed frames via Push (or
// PushScript for whole scripted sequences). Tests drive the pipeline
// deterministically by pushing exactly the frames a scenario requires and
// then calling Finish.
package mock

import (
	"sync"
	"time"

	"github.com/hexlattice/cadence/pkg/audio"
)

// Source is a mock implementation of audio.Source backed by an in-memory
// channel. Safe for concurrent use.
type Source struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.Frame
	err    error
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSource creates a Source with the given format and channel capacity.
func NewSource(format audio.Format, capacity int) *Source {
	return &Source{
		format: format,
		frames: make(chan audio.Frame, capacity),
	}
}

// Format implements audio.Source.
func (s *Source) Format() audio.Format { return s.format }

// Frames implements audio.Source.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Err implements audio.Source.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements audio.Source. The first call closes the frame channel.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Push delivers one frame to the pipeline. Panics if called after Finish or
// Close.
func (s *Source) Push(f audio.Frame) {
	s.frames <- f
}

// PushPCM wraps raw PCM bytes in a Frame with the given timestamp and
// delivers it.
func (s *Source) PushPCM(data []byte, ts time.Duration) {
	s.Push(audio.Frame{Data: data, SampleRate: s.format.SampleRate, Timestamp: ts})
}

// Finish ends the stream with err as the terminal error (nil for a clean
// end). Safe to call once.
func (s *Source) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.frames)
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
