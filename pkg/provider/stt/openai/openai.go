// Package openai provides an OpenAI-backed Transcriber using the audio
// transcriptions API (whisper-1 and the gpt-4o transcription models).
//
// Each completed turn's PCM is wrapped in a WAV container and uploaded as a
// single transcription request. This can also be used with any
// OpenAI-compatible endpoint by setting WithBaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hexlattice/cadence/pkg/provider/stt"
)

const defaultModel = openai.AudioModelWhisper1

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the transcription model (e.g., "whisper-1",
// "gpt-4o-mini-transcribe"). Defaults to whisper-1.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = openai.AudioModel(model)
	}
}

// WithBaseURL overrides the API endpoint, for OpenAI-compatible providers.
func WithBaseURL(baseURL string) Option {
	return func(t *Transcriber) {
		t.baseURL = baseURL
	}
}

// Transcriber implements stt.Transcriber backed by the OpenAI audio
// transcriptions API. Safe for concurrent use.
type Transcriber struct {
	client  *openai.Client
	model   openai.AudioModel
	baseURL string
}

// New creates a Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	t := &Transcriber{model: defaultModel}
	for _, o := range opts {
		o(t)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if t.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(t.baseURL))
	}
	client := openai.NewClient(clientOpts...)
	t.client = &client
	return t, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, cfg stt.AudioConfig) (stt.Transcript, error) {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	wav := encodeWAV(pcm, sr, ch)

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: t.model,
	}
	if cfg.Language != "" {
		params.Language = openai.String(cfg.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	return stt.Transcript{
		Text:      text,
		WordCount: stt.CountWords(text),
		Duration:  pcmDuration(len(pcm), sr, ch),
	}, nil
}

// pcmDuration returns the play time of a 16-bit PCM payload.
func pcmDuration(byteLen, sampleRate, channels int) time.Duration {
	bytesPerSecond := sampleRate * channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(byteLen) / float64(bytesPerSecond) * float64(time.Second))
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
