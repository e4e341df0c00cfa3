// Package observe provides application-wide observability primitives for
// Cadence: OpenTelemetry metrics, structured logging helpers, and the SDK
// provider wiring.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cadence metrics.
const meterName = "github.com/hexlattice/cadence"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TurnSpeaking tracks the speaking duration of completed turns.
	TurnSpeaking metric.Float64Histogram

	// PauseDuration tracks resolved pause lengths. Use with attribute:
	//   attribute.String("location", ...)
	PauseDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsCompleted counts dispatched turns. Use with attribute:
	//   attribute.String("reason", ...)
	TurnsCompleted metric.Int64Counter

	// TurnsDropped counts turns discarded before dispatch. Use with attribute:
	//   attribute.String("cause", ...) — "queue_full" or "too_short"
	TurnsDropped metric.Int64Counter

	// FramesProcessed counts classified frames. Use with attribute:
	//   attribute.String("label", ...)
	FramesProcessed metric.Int64Counter

	// ControlSignals counts recognized voice commands. Use with attribute:
	//   attribute.String("signal", ...)
	ControlSignals metric.Int64Counter

	// CalibrationsCompleted counts folded calibration sessions.
	CalibrationsCompleted metric.Int64Counter

	// --- Error counters ---

	// STTErrors counts failed transcription attempts.
	STTErrors metric.Int64Counter

	// ProfileSaveErrors counts failed profile persistence attempts.
	ProfileSaveErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live capture streams.
	ActiveStreams metric.Int64UpDownCounter

	// QueueDepth tracks the number of turns waiting in the hand-off queue.
	QueueDepth metric.Int64UpDownCounter
}

// sttBuckets defines histogram bucket boundaries (in seconds) for
// transcription latency.
var sttBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// speechBuckets defines histogram bucket boundaries (in seconds) for
// speaking and pause durations.
var speechBuckets = []float64{
	0.25, 0.5, 1, 1.5, 2, 3, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("cadence.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sttBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnSpeaking, err = m.Float64Histogram("cadence.turn.speaking_duration",
		metric.WithDescription("Speaking duration of completed turns."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PauseDuration, err = m.Float64Histogram("cadence.pause.duration",
		metric.WithDescription("Resolved pause duration by location."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsCompleted, err = m.Int64Counter("cadence.turns.completed",
		metric.WithDescription("Total dispatched turns by completion reason."),
	); err != nil {
		return nil, err
	}
	if met.TurnsDropped, err = m.Int64Counter("cadence.turns.dropped",
		metric.WithDescription("Total turns discarded before dispatch by cause."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("cadence.frames.processed",
		metric.WithDescription("Total classified audio frames by label."),
	); err != nil {
		return nil, err
	}
	if met.ControlSignals, err = m.Int64Counter("cadence.control.signals",
		metric.WithDescription("Total recognized voice control commands by signal."),
	); err != nil {
		return nil, err
	}
	if met.CalibrationsCompleted, err = m.Int64Counter("cadence.calibrations.completed",
		metric.WithDescription("Total folded calibration sessions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.STTErrors, err = m.Int64Counter("cadence.stt.errors",
		metric.WithDescription("Total failed transcription attempts."),
	); err != nil {
		return nil, err
	}
	if met.ProfileSaveErrors, err = m.Int64Counter("cadence.profile.save_errors",
		metric.WithDescription("Total failed profile persistence attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("cadence.active_streams",
		metric.WithDescription("Number of live capture streams."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("cadence.queue.depth",
		metric.WithDescription("Turns waiting in the hand-off queue."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurnCompleted records a dispatched turn with its completion reason
// and speaking duration in seconds.
func (m *Metrics) RecordTurnCompleted(ctx context.Context, reason string, speakingSeconds float64) {
	m.TurnsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.TurnSpeaking.Record(ctx, speakingSeconds)
}

// RecordTurnDropped records a turn discarded before dispatch.
func (m *Metrics) RecordTurnDropped(ctx context.Context, cause string) {
	m.TurnsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cause", cause)),
	)
}

// RecordPause records a resolved pause with its classified location.
func (m *Metrics) RecordPause(ctx context.Context, location string, seconds float64) {
	m.PauseDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("location", location)),
	)
}

// RecordControlSignal records a recognized voice command.
func (m *Metrics) RecordControlSignal(ctx context.Context, signal string) {
	m.ControlSignals.Add(ctx, 1,
		metric.WithAttributes(attribute.String("signal", signal)),
	)
}
