package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/randalmurphal/workgraph/pkg/workgraph"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/lock"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
	"github.com/redis/go-redis/v9"
)

// OpenStore opens the configured checkpoint backend.
func OpenStore(ctx context.Context, cfg StoreConfig) (checkpoint.Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return checkpoint.NewMemoryStore(), nil
	case DriverSQLite:
		store, err := checkpoint.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMySQL:
		store, err := checkpoint.NewMySQLStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverRedis:
		var opts []checkpoint.RedisOption
		if cfg.Prefix != "" {
			opts = append(opts, checkpoint.WithPrefix(cfg.Prefix))
		}
		return checkpoint.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB, opts...), nil
	}
	return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalidEngine, cfg.Driver)
}

// OpenLocker opens the configured thread lock. The returned close function
// releases the Redis client of a redis locker and is a no-op otherwise.
func OpenLocker(cfg LockConfig, store StoreConfig) (lock.Locker, func() error, error) {
	switch cfg.Driver {
	case DriverLocal, "":
		return lock.Process(), func() error { return nil }, nil
	case DriverRedis:
		addr := cfg.Addr
		if addr == "" {
			addr = store.Addr
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: store.Password,
			DB:       store.DB,
		})
		return lock.NewRedisLocker(client, store.Prefix), client.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown lock driver %q", ErrInvalidEngine, cfg.Driver)
}

// NewMetrics builds the configured metrics recorder. registry is used by the
// prometheus exporter; nil means prometheus.DefaultRegisterer.
func NewMetrics(cfg MetricsConfig, registry prometheus.Registerer) (observability.MetricsRecorder, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		return observability.NoopMetrics{}, nil
	case ExporterOTel:
		return observability.NewMetricsRecorder(), nil
	case ExporterPrometheus:
		return observability.NewPrometheusMetrics(registry), nil
	}
	return nil, fmt.Errorf("%w: unknown metrics exporter %q", ErrInvalidEngine, cfg.Exporter)
}

// NewSpans returns the OpenTelemetry span manager when tracing is enabled.
func NewSpans(cfg TracingConfig) observability.SpanManager {
	if cfg.Enabled {
		return observability.NewSpanManager()
	}
	return observability.NoopSpanManager{}
}

// NewLogger builds a text logger at the configured level.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	return observability.NewLogger(w, cfg.Level)
}

// Runtime holds everything opened from an Engine configuration.
type Runtime struct {
	Store   checkpoint.Store
	Locker  lock.Locker
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager

	engine      Engine
	closeLocker func() error
}

// Open opens the store, locker and observability described by e. Logs are
// written to w. Call Close when done.
func Open(ctx context.Context, e Engine, w io.Writer, registry prometheus.Registerer) (*Runtime, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, e.Store)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	locker, closeLocker, err := OpenLocker(e.Lock, e.Store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open thread lock: %w", err)
	}
	metrics, err := NewMetrics(e.Metrics, registry)
	if err != nil {
		_ = store.Close()
		_ = closeLocker()
		return nil, err
	}

	return &Runtime{
		Store:       store,
		Locker:      locker,
		Logger:      NewLogger(e.Log, w),
		Metrics:     metrics,
		Spans:       NewSpans(e.Tracing),
		engine:      e,
		closeLocker: closeLocker,
	}, nil
}

// RunnerOptions returns the Runner options matching the configuration.
func (rt *Runtime) RunnerOptions() []workgraph.RunnerOption {
	return []workgraph.RunnerOption{
		workgraph.WithLocker(rt.Locker),
		workgraph.WithLogger(rt.Logger),
		workgraph.WithMetrics(rt.Metrics),
		workgraph.WithTracing(rt.Spans),
		workgraph.WithMaxSteps(rt.engine.MaxSteps),
		workgraph.WithLockTTL(rt.engine.Lock.TTL),
		workgraph.WithFanOutConfig(workgraph.FanOutConfig{
			MaxParallelism: rt.engine.FanOut.MaxParallelism,
			BestEffort:     rt.engine.FanOut.BestEffort,
		}),
	}
}

// NewRunner creates a Runner for graph over the runtime's store.
func (rt *Runtime) NewRunner(graph *workgraph.CompiledGraph, opts ...workgraph.RunnerOption) *workgraph.Runner {
	return workgraph.NewRunner(graph, rt.Store, append(rt.RunnerOptions(), opts...)...)
}

// Close releases the store and the locker.
func (rt *Runtime) Close() error {
	return errors.Join(rt.Store.Close(), rt.closeLocker())
}
