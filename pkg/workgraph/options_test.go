package workgraph

import (
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/lock"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
	"github.com/stretchr/testify/assert"
)

func optionGraph(t *testing.T) *CompiledGraph {
	return mustCompile(t, NewGraph(testSchema()).AddNode("a", increment).AddEdge("a", END).SetEntry("a"))
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(optionGraph(t), checkpoint.NewMemoryStore())

	assert.Same(t, lock.Process(), r.locker)
	assert.Same(t, slog.Default(), r.logger)
	assert.Equal(t, observability.NoopMetrics{}, r.metrics)
	assert.Equal(t, observability.NoopSpanManager{}, r.spans)
	assert.Equal(t, DefaultMaxSteps, r.maxSteps)
	assert.Equal(t, DefaultLockTTL, r.lockTTL)
	assert.Equal(t, FanOutConfig{MaxParallelism: DefaultMaxParallelism}, r.fanOut)
	assert.NotNil(t, r.Graph())
}

func TestRunnerOptions(t *testing.T) {
	locker := lock.NewLocalLocker()
	logger := observability.NewNopLogger()
	metrics := observability.NewPrometheusMetrics(prometheus.NewRegistry())

	r := NewRunner(optionGraph(t), checkpoint.NewMemoryStore(),
		WithLocker(locker),
		WithLogger(logger),
		WithMetrics(metrics),
		WithMaxSteps(7),
		WithLockTTL(time.Minute),
		WithFanOutConfig(FanOutConfig{MaxParallelism: 1, BestEffort: true}),
	)

	assert.Same(t, locker, r.locker)
	assert.Same(t, logger, r.logger)
	assert.Same(t, metrics, r.metrics)
	assert.Equal(t, 7, r.maxSteps)
	assert.Equal(t, time.Minute, r.lockTTL)
	assert.Equal(t, FanOutConfig{MaxParallelism: 1, BestEffort: true}, r.fanOut)
}

// Zero and nil option values keep the defaults.
func TestRunnerOptions_IgnoreZeroValues(t *testing.T) {
	r := NewRunner(optionGraph(t), checkpoint.NewMemoryStore(),
		WithLocker(nil),
		WithLogger(nil),
		WithMetrics(nil),
		WithTracing(nil),
		WithMaxSteps(0),
		WithLockTTL(-time.Second),
	)

	assert.NotNil(t, r.locker)
	assert.NotNil(t, r.logger)
	assert.NotNil(t, r.metrics)
	assert.NotNil(t, r.spans)
	assert.Equal(t, DefaultMaxSteps, r.maxSteps)
	assert.Equal(t, DefaultLockTTL, r.lockTTL)
}

func TestExpectInterrupt(t *testing.T) {
	var cfg resumeConfig
	ExpectInterrupt("abc")(&cfg)
	assert.Equal(t, "abc", cfg.expectInterrupt)
}
