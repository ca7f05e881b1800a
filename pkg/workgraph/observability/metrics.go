package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records workgraph metrics.
// Use NewMetricsRecorder() for OTel metrics, NewPrometheusMetrics for
// Prometheus, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordRun records the end of a Runner invocation with the thread's status.
	RecordRun(ctx context.Context, status string, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, status string, sizeBytes int64)

	// RecordFanOut records a finished fan-out step.
	RecordFanOut(ctx context.Context, fanOutID string, branches, failed int, duration time.Duration)

	// RecordInterrupt records a suspension (resumed=false) or a resume (resumed=true).
	RecordInterrupt(ctx context.Context, nodeID string, resumed bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	checkpointSize metric.Int64Histogram
	fanOutBranches metric.Int64Counter
	fanOutFailures metric.Int64Counter
	fanOutLatency  metric.Float64Histogram
	interrupts     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("workgraph"))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("workgraph.node.executions",
		metric.WithDescription("Number of node executions"),
	); err != nil {
		return nil, err
	}

	if m.nodeLatency, err = meter.Float64Histogram("workgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.nodeErrors, err = meter.Int64Counter("workgraph.node.errors",
		metric.WithDescription("Number of node execution errors"),
	); err != nil {
		return nil, err
	}

	if m.runs, err = meter.Int64Counter("workgraph.runs",
		metric.WithDescription("Number of Runner invocations by resulting status"),
	); err != nil {
		return nil, err
	}

	if m.runLatency, err = meter.Float64Histogram("workgraph.run.latency_ms",
		metric.WithDescription("Runner invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.checkpointSize, err = meter.Int64Histogram("workgraph.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.fanOutBranches, err = meter.Int64Counter("workgraph.fanout.branches",
		metric.WithDescription("Number of fan-out branches executed"),
	); err != nil {
		return nil, err
	}

	if m.fanOutFailures, err = meter.Int64Counter("workgraph.fanout.failures",
		metric.WithDescription("Number of failed fan-out branches"),
	); err != nil {
		return nil, err
	}

	if m.fanOutLatency, err = meter.Float64Histogram("workgraph.fanout.latency_ms",
		metric.WithDescription("Fan-out step latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.interrupts, err = meter.Int64Counter("workgraph.interrupts",
		metric.WithDescription("Number of suspensions and resumes"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter returns an OpenTelemetry MetricsRecorder
// bound to a specific meter instead of the global provider.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	return newOtelMetrics(meter)
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))

	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

// RecordRun records a Runner invocation.
func (m *otelMetrics) RecordRun(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, status string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("status", status)))
}

// RecordFanOut records a fan-out step.
func (m *otelMetrics) RecordFanOut(ctx context.Context, fanOutID string, branches, failed int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("fan_out_id", fanOutID))
	m.fanOutBranches.Add(ctx, int64(branches), attrs)
	if failed > 0 {
		m.fanOutFailures.Add(ctx, int64(failed), attrs)
	}
	m.fanOutLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordInterrupt records a suspension or resume.
func (m *otelMetrics) RecordInterrupt(ctx context.Context, nodeID string, resumed bool) {
	event := "suspend"
	if resumed {
		event = "resume"
	}
	m.interrupts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("event", event),
	))
}
