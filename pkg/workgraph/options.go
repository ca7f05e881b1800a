package workgraph

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/workgraph/pkg/workgraph/lock"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
)

// Defaults for Runner configuration.
const (
	DefaultMaxSteps       = 1000
	DefaultLockTTL        = 10 * time.Minute
	DefaultMaxParallelism = 8
)

// FanOutConfig controls how fan-out steps execute their branches.
type FanOutConfig struct {
	// MaxParallelism bounds concurrently running branches.
	// 1 runs branches sequentially in dispatch order; 0 or less runs
	// every branch at once.
	MaxParallelism int

	// BestEffort merges the successful branches when some fail and records
	// the failures on the checkpoint. By default one failed branch fails
	// the whole step.
	BestEffort bool
}

// DefaultFanOutConfig returns the default fan-out configuration.
func DefaultFanOutConfig() FanOutConfig {
	return FanOutConfig{MaxParallelism: DefaultMaxParallelism}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLocker sets the per-thread lock. Default: lock.Process(), shared by
// every Runner in the process. Use a lock.RedisLocker when several
// processes share one store.
func WithLocker(l lock.Locker) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithLogger sets the logger used for run, node and checkpoint events.
// Node contexts receive it enriched with thread_id and node_id.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics.
//
// Example:
//
//	runner := workgraph.NewRunner(graph, store,
//	    workgraph.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracing sets the span manager.
// Default: observability.NoopSpanManager.
func WithTracing(s observability.SpanManager) RunnerOption {
	return func(r *Runner) {
		if s != nil {
			r.spans = s
		}
	}
}

// WithMaxSteps sets the maximum number of steps one invocation may execute.
// Default: 1000
//
// This prevents routing cycles from running forever. A thread that exceeds
// the limit fails with *MaxIterationsError.
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithFanOutConfig sets the fan-out execution policy.
func WithFanOutConfig(cfg FanOutConfig) RunnerOption {
	return func(r *Runner) {
		r.fanOut = cfg
	}
}

// WithLockTTL sets how long a distributed thread lock survives a crashed
// holder. A live holder renews the lock while the invocation runs, so the
// TTL does not bound how long a step may take. Default: 10 minutes.
func WithLockTTL(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.lockTTL = d
		}
	}
}

// resumeConfig holds per-call Resume settings.
type resumeConfig struct {
	expectInterrupt string
}

// ResumeOption configures a Resume call.
type ResumeOption func(*resumeConfig)

// ExpectInterrupt makes Resume deliver the value only if the thread is
// suspended on interruptID. A thread that already consumed interruptID and
// suspended again returns *AlreadyResumedError instead of answering the
// newer question with a stale value.
func ExpectInterrupt(interruptID string) ResumeOption {
	return func(c *resumeConfig) {
		c.expectInterrupt = interruptID
	}
}
