package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTurnCompleted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurnCompleted(ctx, "silence", 4.5)
	m.RecordTurnCompleted(ctx, "max_silence", 12)

	rm := collect(t, reader)

	counter := findMetric(rm, "cadence.turns.completed")
	if counter == nil {
		t.Fatal("cadence.turns.completed not found")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", counter.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("completed turns = %d, want 2", total)
	}

	hist := findMetric(rm, "cadence.turn.speaking_duration")
	if hist == nil {
		t.Fatal("cadence.turn.speaking_duration not found")
	}
	hd, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	if got := hd.DataPoints[0].Count; got != 2 {
		t.Errorf("histogram count = %d, want 2", got)
	}
}

func TestRecordPauseByLocation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPause(ctx, "within_turn", 0.4)
	m.RecordPause(ctx, "thinking", 3.2)
	m.RecordPause(ctx, "thinking", 2.9)

	rm := collect(t, reader)
	hist := findMetric(rm, "cadence.pause.duration")
	if hist == nil {
		t.Fatal("cadence.pause.duration not found")
	}
	hd, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	// One datapoint per location attribute value.
	if got := len(hd.DataPoints); got != 2 {
		t.Fatalf("datapoints = %d, want 2", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 1)
	m.QueueDepth.Add(ctx, 1)
	m.QueueDepth.Add(ctx, -1)

	rm := collect(t, reader)
	gauge := findMetric(rm, "cadence.queue.depth")
	if gauge == nil {
		t.Fatal("cadence.queue.depth not found")
	}
	sum, ok := gauge.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", gauge.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("queue depth = %d, want 1", got)
	}
}
