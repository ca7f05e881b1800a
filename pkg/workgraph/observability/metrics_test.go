package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a recorder on a private meter provider and
// returns the reader used to collect from it.
func setupMetricsTest(t *testing.T) (MetricsRecorder, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})

	recorder, err := NewMetricsRecorderFromMeter(provider.Meter("test"))
	require.NoError(t, err)
	return recorder, reader
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	// The global recorder is a singleton
	assert.Same(t, recorder, NewMetricsRecorder())
}

func TestOtelMetrics_RecordNodeExecution(t *testing.T) {
	recorder, reader := setupMetricsTest(t)
	ctx := context.Background()

	recorder.RecordNodeExecution(ctx, "classify", 10*time.Millisecond, nil)
	recorder.RecordNodeExecution(ctx, "classify", 5*time.Millisecond, errors.New("boom"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumValue(t, findMetric(rm, "workgraph.node.executions")))
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "workgraph.node.errors")))

	latency := findMetric(rm, "workgraph.node.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestOtelMetrics_RunFanOutInterrupt(t *testing.T) {
	recorder, reader := setupMetricsTest(t)
	ctx := context.Background()

	recorder.RecordRun(ctx, "completed", time.Millisecond)
	recorder.RecordRun(ctx, "suspended", time.Millisecond)
	recorder.RecordCheckpoint(ctx, "running", 512)
	recorder.RecordFanOut(ctx, "analyze", 3, 1, time.Millisecond)
	recorder.RecordInterrupt(ctx, "approve", false)
	recorder.RecordInterrupt(ctx, "approve", true)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumValue(t, findMetric(rm, "workgraph.runs")))
	assert.Equal(t, int64(3), sumValue(t, findMetric(rm, "workgraph.fanout.branches")))
	assert.Equal(t, int64(1), sumValue(t, findMetric(rm, "workgraph.fanout.failures")))
	assert.Equal(t, int64(2), sumValue(t, findMetric(rm, "workgraph.interrupts")))
	assert.NotNil(t, findMetric(rm, "workgraph.checkpoint.size_bytes"))
}
