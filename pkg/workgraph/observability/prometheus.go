package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
//
// Metrics exposed (all namespaced with "workgraph_"):
//   - node_executions_total{node_id,status}
//   - node_latency_ms{node_id}
//   - runs_total{status}
//   - run_latency_ms{status}
//   - checkpoint_size_bytes{status}
//   - fanout_branches_total{fan_out_id,status}
//   - interrupts_total{node_id,event}
//
// Expose them by serving the registry with promhttp.HandlerFor.
type PrometheusMetrics struct {
	nodeExecutions *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runLatency     *prometheus.HistogramVec
	checkpointSize *prometheus.HistogramVec
	fanOutBranches *prometheus.CounterVec
	interrupts     *prometheus.CounterVec
}

// Compile-time interface check.
var _ MetricsRecorder = (*PrometheusMetrics)(nil)

var latencyBuckets = []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}

// NewPrometheusMetrics creates and registers all collectors with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workgraph",
			Name:      "node_executions_total",
			Help:      "Number of node executions by outcome.",
		}, []string{"node_id", "status"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workgraph",
			Name:      "node_latency_ms",
			Help:      "Node execution latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"node_id"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workgraph",
			Name:      "runs_total",
			Help:      "Runner invocations by resulting thread status.",
		}, []string{"status"}),
		runLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workgraph",
			Name:      "run_latency_ms",
			Help:      "Runner invocation latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"status"}),
		checkpointSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workgraph",
			Name:      "checkpoint_size_bytes",
			Help:      "Encoded checkpoint size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"status"}),
		fanOutBranches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workgraph",
			Name:      "fanout_branches_total",
			Help:      "Fan-out branches by outcome.",
		}, []string{"fan_out_id", "status"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workgraph",
			Name:      "interrupts_total",
			Help:      "Suspensions and resumes.",
		}, []string{"node_id", "event"}),
	}
}

// RecordNodeExecution implements MetricsRecorder.
func (p *PrometheusMetrics) RecordNodeExecution(_ context.Context, nodeID string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.nodeExecutions.WithLabelValues(nodeID, status).Inc()
	p.nodeLatency.WithLabelValues(nodeID).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordRun implements MetricsRecorder.
func (p *PrometheusMetrics) RecordRun(_ context.Context, status string, duration time.Duration) {
	p.runs.WithLabelValues(status).Inc()
	p.runLatency.WithLabelValues(status).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordCheckpoint implements MetricsRecorder.
func (p *PrometheusMetrics) RecordCheckpoint(_ context.Context, status string, sizeBytes int64) {
	p.checkpointSize.WithLabelValues(status).Observe(float64(sizeBytes))
}

// RecordFanOut implements MetricsRecorder.
func (p *PrometheusMetrics) RecordFanOut(_ context.Context, fanOutID string, branches, failed int, _ time.Duration) {
	p.fanOutBranches.WithLabelValues(fanOutID, "success").Add(float64(branches - failed))
	if failed > 0 {
		p.fanOutBranches.WithLabelValues(fanOutID, "error").Add(float64(failed))
	}
}

// RecordInterrupt implements MetricsRecorder.
func (p *PrometheusMetrics) RecordInterrupt(_ context.Context, nodeID string, resumed bool) {
	event := "suspend"
	if resumed {
		event = "resume"
	}
	p.interrupts.WithLabelValues(nodeID, event).Inc()
}
