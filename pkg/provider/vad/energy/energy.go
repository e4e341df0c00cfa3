// Package energy provides a pure-Go VAD engine based on mean absolute
// amplitude with ring-buffer smoothing.
//
// Each frame's mean |sample| is compared against a fixed gate: frames below
// the gate are raw silence (distant voices and room noise sit well under
// close-mic speech levels), frames at or above it are raw speech. The raw
// per-frame decisions are then smoothed with a majority vote over a small
// ring of recent frames, which suppresses single-frame flicker in both
// directions.
//
// The engine allocates nothing per frame and performs no I/O, so a Classify
// call costs a few microseconds, far inside the 30 ms frame time.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hexlattice/cadence/pkg/provider/vad"
)

const (
	// defaultGate is the mean absolute amplitude (in 16-bit PCM units, max
	// 32767) below which a frame is considered silent. Typical close-mic
	// speech measures 500–3000.
	defaultGate = 100.0

	// defaultSmoothingWindow is the ring-buffer length for the majority vote.
	defaultSmoothingWindow = 10
)

// ErrSessionClosed is returned by Classify after the session is closed.
var ErrSessionClosed = errors.New("energy: session closed")

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithGate sets the mean-absolute-amplitude gate. Higher values require
// louder speech. Defaults to 100.
func WithGate(gate float64) Option {
	return func(e *Engine) {
		e.gate = gate
	}
}

// WithSmoothingWindow sets the ring-buffer length for the majority vote.
// Must be ≥ 1. Defaults to 10 frames (300 ms at the default cadence).
func WithSmoothingWindow(n int) Option {
	return func(e *Engine) {
		e.window = n
	}
}

// Engine implements vad.Engine. Safe for concurrent use; each session
// carries its own ring buffer.
type Engine struct {
	gate   float64
	window int
}

// New creates an energy-gate Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		gate:   defaultGate,
		window: defaultSmoothingWindow,
	}
	for _, o := range opts {
		o(e)
	}
	if e.gate < 0 {
		return nil, fmt.Errorf("energy: gate must be >= 0, got %g", e.gate)
	}
	if e.window < 1 {
		return nil, fmt.Errorf("energy: smoothing window must be >= 1, got %d", e.window)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %dms", cfg.FrameSizeMs)
	}
	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	return &session{
		gate:       e.gate,
		frameBytes: frameBytes,
		ring:       make([]bool, 0, e.window),
		window:     e.window,
	}, nil
}

// session implements vad.SessionHandle. Not safe for concurrent use.
type session struct {
	gate       float64
	frameBytes int

	// ring holds the most recent raw per-frame decisions, oldest first.
	ring   []bool
	window int
	closed bool
}

// Classify implements vad.SessionHandle.
func (s *session) Classify(frame []byte) (vad.Result, error) {
	if s.closed {
		return vad.Result{}, ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Result{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	energy := meanAbs(frame)
	raw := energy >= s.gate

	if len(s.ring) == s.window {
		copy(s.ring, s.ring[1:])
		s.ring[len(s.ring)-1] = raw
	} else {
		s.ring = append(s.ring, raw)
	}

	votes := 0
	for _, v := range s.ring {
		if v {
			votes++
		}
	}

	label := vad.Silence
	if votes*2 > len(s.ring) {
		label = vad.Speech
	}
	return vad.Result{Label: label, Score: energy}, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.ring = s.ring[:0]
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// meanAbs computes the mean absolute amplitude of 16-bit LE PCM.
func meanAbs(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		if v < 0 {
			sum -= float64(v)
		} else {
			sum += float64(v)
		}
	}
	return sum / float64(n)
}

// Ensure interfaces are satisfied at compile time.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
