// Package wsstream provides an audio.Source that receives PCM frames from a
// capture device over a WebSocket connection.
//
// The companion's capture daemon (or any device-side shim) pushes binary
// messages containing raw 16-bit little-endian mono PCM. Messages need not be
// frame-aligned: the source re-slices the byte stream into fixed-duration
// frames matching the configured format and stamps each frame with its offset
// from stream start. Text messages are ignored.
package wsstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hexlattice/cadence/pkg/audio"
)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithReadLimit sets the maximum WebSocket message size in bytes. Defaults to
// 1 MiB, which comfortably holds several seconds of 16 kHz mono PCM.
func WithReadLimit(limit int64) Option {
	return func(s *Source) {
		s.readLimit = limit
	}
}

// Source implements audio.Source over a WebSocket connection.
type Source struct {
	format    audio.Format
	conn      *websocket.Conn
	frames    chan audio.Frame
	readLimit int64

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// Dial connects to the capture endpoint at wsURL and starts delivering
// frames in the given format. The caller owns the returned Source and must
// call Close when done.
func Dial(ctx context.Context, wsURL string, format audio.Format, opts ...Option) (*Source, error) {
	if format.SampleRate <= 0 || format.FrameDuration <= 0 {
		return nil, fmt.Errorf("wsstream: invalid format %+v", format)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("wsstream: dial %s: %w", wsURL, err)
	}

	s := &Source{
		format:    format,
		conn:      conn,
		frames:    make(chan audio.Frame, 64),
		readLimit: 1 << 20,
	}
	for _, o := range opts {
		o(s)
	}
	conn.SetReadLimit(s.readLimit)

	go s.readLoop(ctx)
	return s, nil
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

// Close implements audio.Source. It closes the WebSocket connection, which
// unblocks the read loop and closes the frame channel.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		// StatusNormalClosure tells the device side the consumer is done.
		_ = s.conn.Close(websocket.StatusNormalClosure, "capture stopped")
	})
	return nil
}

// readLoop reads binary messages, re-slices them into fixed-size frames, and
// delivers them until the connection ends.
func (s *Source) readLoop(ctx context.Context) {
	defer close(s.frames)

	frameBytes := s.format.FrameBytes()
	var (
		pending  []byte
		frameIdx int64
	)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			s.setErr(terminalErr(err))
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		pending = append(pending, data...)
		for len(pending) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, pending[:frameBytes])
			pending = pending[frameBytes:]

			f := audio.Frame{
				Data:       frame,
				SampleRate: s.format.SampleRate,
				Timestamp:  time.Duration(frameIdx) * s.format.FrameDuration,
			}
			frameIdx++

			select {
			case s.frames <- f:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
	}
}

// terminalErr maps clean WebSocket closure to a nil terminal error.
func terminalErr(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
		return nil
	}
	return fmt.Errorf("wsstream: read: %w", err)
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
