package stream

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/hexlattice/cadence/internal/calibrate"
	"github.com/hexlattice/cadence/internal/control"
	"github.com/hexlattice/cadence/internal/observe"
	"github.com/hexlattice/cadence/internal/profile"
	"github.com/hexlattice/cadence/internal/turn"
	"github.com/hexlattice/cadence/pkg/audio"
	audiomock "github.com/hexlattice/cadence/pkg/audio/mock"
	"github.com/hexlattice/cadence/pkg/provider/stt"
	sttmock "github.com/hexlattice/cadence/pkg/provider/stt/mock"
	"github.com/hexlattice/cadence/pkg/provider/vad"
	vadmock "github.com/hexlattice/cadence/pkg/provider/vad/mock"
)

const frameDur = 30 * time.Millisecond

var format = audio.Format{SampleRate: 16000, FrameDuration: frameDur}

// fixture wires a coordinator to scripted mocks and runs it in the
// background.
type fixture struct {
	t       *testing.T
	source  *audiomock.Source
	vadSess *vadmock.Session
	stt     *sttmock.Transcriber
	store   *profile.MemStore
	coord   *Coordinator
	results chan TurnResult
	done    chan error

	frameIdx int
}

func newFixture(t *testing.T, cfg Config, seed *profile.Profile) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		source:  audiomock.NewSource(format, 4096),
		vadSess: &vadmock.Session{},
		stt:     &sttmock.Transcriber{},
		store:   profile.NewMemStore(),
		results: make(chan TurnResult, 16),
		done:    make(chan error, 1),
	}
	if seed != nil {
		if err := f.store.Save(context.Background(), seed); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
		f.store.SaveCount = 0
	}

	detector, err := control.NewDetector(control.Config{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cfg.UserID = "user-1"
	f.coord, err = New(cfg, Deps{
		Source:      f.source,
		Classifier:  f.vadSess,
		Transcriber: f.stt,
		Store:       f.store,
		Detector:    detector,
		Metrics:     metrics,
		OnTurn:      func(res TurnResult) { f.results <- res },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) run(ctx context.Context) {
	go func() { f.done <- f.coord.Run(ctx) }()
}

// push scripts n frames with the given label and delivers them.
func (f *fixture) push(label vad.Label, n int) {
	data := make([]byte, format.FrameBytes())
	for i := 0; i < n; i++ {
		f.vadSess.Script(vad.Result{Label: label, Score: 1})
		f.source.PushPCM(data, time.Duration(f.frameIdx)*frameDur)
		f.frameIdx++
	}
}

func (f *fixture) finish() {
	f.source.Finish(nil)
	select {
	case err := <-f.done:
		if err != nil {
			f.t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		f.t.Fatal("Run did not return after source finished")
	}
}

func (f *fixture) nextResult() TurnResult {
	f.t.Helper()
	select {
	case res := <-f.results:
		return res
	case <-time.After(5 * time.Second):
		f.t.Fatal("timed out waiting for turn result")
		return TurnResult{}
	}
}

func calibratedProfile() *profile.Profile {
	p := profile.NewDefault("user-1")
	p.IsCalibrated = true
	return p
}

func framesFor(d time.Duration) int { return int(d / frameDur) }

// ── end to end ─────────────────────────────────────────────────────────────

func TestCoordinatorDispatchesTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, calibratedProfile())
	f.stt.Default = stt.Transcript{Text: "hello there world", WordCount: 3}

	f.run(context.Background())
	f.push(vad.Speech, framesFor(2*time.Second))
	f.push(vad.Silence, framesFor(profile.DefaultSilenceThreshold))

	res := f.nextResult()
	if res.Err != nil {
		t.Fatalf("unexpected transcription error: %v", res.Err)
	}
	if res.Text != "hello there world" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Turn.WordCount != 3 {
		t.Errorf("word count = %d, want 3", res.Turn.WordCount)
	}
	if res.Turn.Reason != turn.ReasonSilence {
		t.Errorf("reason = %v, want silence", res.Turn.Reason)
	}
	if res.Turn.PCM != nil {
		t.Error("payload should be released after transcription")
	}
	f.finish()
}

func TestCoordinatorFlushOnSourceEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, calibratedProfile())
	f.stt.Default = stt.Transcript{Text: "cut off mid sentence", WordCount: 4}

	f.run(context.Background())
	f.push(vad.Speech, framesFor(time.Second))
	f.finish()

	res := f.nextResult()
	if res.Turn.Reason != turn.ReasonFlush {
		t.Errorf("reason = %v, want flush", res.Turn.Reason)
	}
}

// ── backpressure ───────────────────────────────────────────────────────────

func TestCoordinatorDropsOldestWhenQueueFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{QueueSize: 1}, calibratedProfile())
	f.stt.Block = make(chan struct{})
	f.stt.Default = stt.Transcript{Text: "words", WordCount: 1}

	f.run(context.Background())

	completeTurn := func(speechFrames int) {
		f.push(vad.Speech, speechFrames)
		f.push(vad.Silence, framesFor(profile.DefaultSilenceThreshold))
	}

	// First turn: wait until the stalled worker has claimed it.
	completeTurn(30)
	waitFor(t, func() bool { return f.stt.CallCount() == 1 })

	// Two more while the worker is stuck: capacity 1, so the middle turn is
	// evicted by the third.
	completeTurn(40)
	waitFor(t, func() bool { return f.queueLen() == 1 })
	completeTurn(50)
	waitFor(t, func() bool {
		f.coord.queue.mu.Lock()
		defer f.coord.queue.mu.Unlock()
		return len(f.coord.queue.items) == 1 && len(f.coord.queue.items[0].PCM) == 50*format.FrameBytes()
	})

	close(f.stt.Block)
	f.finish()

	first := f.nextResult()
	second := f.nextResult()
	if got := len(f.stt.TranscribeCalls); got != 2 {
		t.Fatalf("transcribe calls = %d, want 2", got)
	}
	if got := len(f.stt.TranscribeCalls[0].PCM); got != 30*format.FrameBytes() {
		t.Errorf("first processed turn pcm = %d bytes, want the 30-frame turn", got)
	}
	if got := len(f.stt.TranscribeCalls[1].PCM); got != 50*format.FrameBytes() {
		t.Errorf("second processed turn pcm = %d bytes, want the 50-frame turn", got)
	}
	if first.Err != nil || second.Err != nil {
		t.Errorf("unexpected errors: %v, %v", first.Err, second.Err)
	}
}

func (f *fixture) queueLen() int { return f.coord.queue.Len() }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// ── learning paths ─────────────────────────────────────────────────────────

func TestCoordinatorFoldsFailedTranscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{SaveEvery: 1}, calibratedProfile())
	f.stt.DefaultErr = errors.New("stt backend down")

	f.run(context.Background())
	f.push(vad.Speech, framesFor(2*time.Second))
	f.push(vad.Silence, framesFor(profile.DefaultSilenceThreshold))

	res := f.nextResult()
	if res.Err == nil {
		t.Fatal("expected transcription error in result")
	}

	// Pause timing still folded: the closing silence nudges the between
	// average up from its default.
	p := f.coord.Profile()
	if p.AvgBetweenPause <= profile.DefaultAvgBetweenPause {
		t.Errorf("avg between = %v, want > default %v", p.AvgBetweenPause, profile.DefaultAvgBetweenPause)
	}
	if p.TotalWordsSpoken != 0 {
		t.Errorf("total words = %d, want 0 after failed transcription", p.TotalWordsSpoken)
	}
	// No rate sample either: the learned WPM is untouched.
	if p.WordsPerMinute != profile.DefaultWordsPerMinute {
		t.Errorf("wpm = %v, want unchanged default %v", p.WordsPerMinute, profile.DefaultWordsPerMinute)
	}
	if _, ok := f.coord.SpeakingRate(); ok {
		t.Error("speaking rate should have no samples after a failed transcription")
	}
	f.finish()
}

func TestCoordinatorSpeakingRate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, calibratedProfile())
	f.stt.Default = stt.Transcript{Text: "one two three four five six", WordCount: 6}

	f.run(context.Background())
	for i := 0; i < 2; i++ {
		f.push(vad.Speech, framesFor(3*time.Second))
		f.push(vad.Silence, framesFor(profile.DefaultSilenceThreshold))
		f.nextResult()
	}

	// 12 words over 6s of speech.
	wpm, ok := f.coord.SpeakingRate()
	if !ok {
		t.Fatal("expected a speaking-rate estimate after transcribed turns")
	}
	if math.Abs(wpm-120) > 1e-9 {
		t.Errorf("speaking rate = %v, want 120", wpm)
	}

	// Both folds learned from the running estimate at the default 0.1 rate.
	want := profile.DefaultWordsPerMinute
	want = 0.1*wpm + 0.9*want
	want = 0.1*wpm + 0.9*want
	p := f.coord.Profile()
	if math.Abs(p.WordsPerMinute-want) > 1e-6 {
		t.Errorf("profile wpm = %v, want %v", p.WordsPerMinute, want)
	}
	f.finish()
}

func TestCoordinatorSaveCadence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{SaveEvery: 2}, calibratedProfile())
	f.stt.Default = stt.Transcript{Text: "some words here", WordCount: 3}

	f.run(context.Background())
	for i := 0; i < 4; i++ {
		f.push(vad.Speech, framesFor(2*time.Second))
		f.push(vad.Silence, framesFor(profile.DefaultSilenceThreshold))
		f.nextResult()
	}
	// Four folds at a cadence of two: exactly two cadence saves so far.
	if got := f.store.SaveCount; got != 2 {
		t.Errorf("saves after 4 turns = %d, want 2", got)
	}
	f.finish()
}

func TestCoordinatorCalibration(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Calibration: calibrate.Config{
			MinDuration: time.Nanosecond,
			MinWords:    5,
		},
	}
	f := newFixture(t, cfg, nil) // no seed: store creates an uncalibrated default
	f.stt.Default = stt.Transcript{Text: "one two three four five six", WordCount: 6}

	f.run(context.Background())
	waitFor(t, func() bool { return f.coord.Calibrating() })

	f.push(vad.Speech, framesFor(2*time.Second))
	// Widened thresholds: the default silence threshold alone must not
	// complete the turn during calibration.
	f.push(vad.Silence, framesFor(profile.DefaultSilenceThreshold))
	select {
	case res := <-f.results:
		t.Fatalf("turn completed at unwidened threshold: %+v", res.Turn)
	case <-time.After(50 * time.Millisecond):
	}
	f.push(vad.Silence, framesFor(calibrate.DefaultWidenMargin)+2)
	res := f.nextResult()
	if res.Turn.WordCount != 6 {
		t.Fatalf("word count = %d, want 6", res.Turn.WordCount)
	}

	waitFor(t, func() bool { return !f.coord.Calibrating() })
	p := f.coord.Profile()
	if !p.IsCalibrated {
		t.Error("profile should be calibrated")
	}
	saved, err := f.store.Load(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !saved.IsCalibrated {
		t.Error("calibration completion must persist immediately")
	}
	f.finish()
}

// ── control signals ────────────────────────────────────────────────────────

func TestCoordinatorVoiceCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, calibratedProfile())
	f.stt.Script(stt.Transcript{Text: "hold on let me look", WordCount: 5})
	f.stt.Script(stt.Transcript{Text: "recalibrate please", WordCount: 2})

	f.run(context.Background())

	f.push(vad.Speech, framesFor(2*time.Second))
	f.push(vad.Silence, framesFor(profile.DefaultSilenceThreshold))
	if got := f.nextResult().Signal; got != control.SignalStillThinking {
		t.Errorf("signal = %v, want still_thinking", got)
	}

	// The still-thinking override may already be armed for the next pause,
	// so run the silence out to the hard ceiling; the turn completes either
	// way.
	f.push(vad.Speech, framesFor(2*time.Second))
	f.push(vad.Silence, framesFor(profile.DefaultMaxSilence)+2)
	if got := f.nextResult().Signal; got != control.SignalRecalibrate {
		t.Errorf("signal = %v, want recalibrate", got)
	}

	waitFor(t, func() bool { return f.coord.Calibrating() })
	if f.coord.Profile().IsCalibrated {
		t.Error("recalibration should reset the calibrated flag")
	}
	f.finish()
}

// ── shutdown ───────────────────────────────────────────────────────────────

func TestCoordinatorDrainsSourceAfterCancel(t *testing.T) {
	t.Parallel()
	source := audiomock.NewSource(format, 1)
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	coord, err := New(Config{UserID: "user-1"}, Deps{
		Source:      source,
		Classifier:  &vadmock.Session{},
		Transcriber: &sttmock.Transcriber{},
		Store:       profile.NewMemStore(),
		Metrics:     metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The device side keeps producing until it is told to stop; its sends
	// must not block now that the capture loop is gone.
	data := make([]byte, format.FrameBytes())
	pushed := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			source.PushPCM(data, time.Duration(i)*frameDur)
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("capture source blocked after shutdown")
	}
	source.Finish(nil)
}
