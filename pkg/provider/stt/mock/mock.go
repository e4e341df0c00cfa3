// Package mock provides a test double for the stt.Transcriber interface.
//
// Results are scripted in FIFO order via Script; once the script is
// exhausted, Transcribe returns Default. Every call is recorded with a copy
// of its PCM payload.
package mock

import (
	"context"
	"sync"

	"github.com/hexlattice/cadence/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio payload passed to Transcribe.
	PCM []byte

	// Cfg is the AudioConfig passed to Transcribe.
	Cfg stt.AudioConfig
}

// scripted is one queued Transcribe outcome.
type scripted struct {
	transcript stt.Transcript
	err        error
}

// Transcriber is a mock implementation of stt.Transcriber. Safe for
// concurrent use.
type Transcriber struct {
	mu sync.Mutex

	script []scripted

	// Default is returned once the scripted queue is empty.
	Default stt.Transcript

	// DefaultErr, if non-nil, is returned with Default once the scripted
	// queue is empty.
	DefaultErr error

	// Block, if non-nil, is received from at the start of every Transcribe
	// call. Tests use it to stall the worker and exercise backpressure.
	Block chan struct{}

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Script queues a successful transcription result.
func (t *Transcriber) Script(tr stt.Transcript) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, scripted{transcript: tr})
}

// ScriptErr queues a transcription failure.
func (t *Transcriber) ScriptErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, scripted{err: err})
}

// Transcribe records the call, pops the next scripted outcome, and then
// waits on Block if set. Recording before blocking lets tests observe that
// the worker has claimed a payload while it is stalled.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, cfg stt.AudioConfig) (stt.Transcript, error) {
	t.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{PCM: cp, Cfg: cfg})
	out := scripted{transcript: t.Default, err: t.DefaultErr}
	if len(t.script) > 0 {
		out = t.script[0]
		t.script = t.script[1:]
	}
	block := t.Block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	return out.transcript, out.err
}

// CallCount returns the number of Transcribe calls recorded so far.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// ResetCalls clears all recorded call history and any remaining script.
// Thread-safe.
func (t *Transcriber) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
	t.script = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
