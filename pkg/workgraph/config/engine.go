package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/randalmurphal/workgraph/pkg/workgraph"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
	DriverLocal  = "local"
)

// Metrics exporters.
const (
	ExporterNone       = "none"
	ExporterOTel       = "otel"
	ExporterPrometheus = "prometheus"
)

// ErrInvalidEngine indicates an engine configuration that cannot be opened.
var ErrInvalidEngine = errors.New("invalid engine configuration")

// Engine is the typed configuration of a workgraph deployment: where
// checkpoints live, how threads are locked, and how the Runner executes.
//
// Example YAML:
//
//	store:
//	  driver: sqlite
//	  path: ./workgraph.db
//	lock:
//	  driver: local
//	  ttl: 5m
//	fanout:
//	  max_parallelism: 4
//	max_steps: 200
//	log:
//	  level: debug
//	metrics:
//	  exporter: prometheus
type Engine struct {
	Store    StoreConfig   `mapstructure:"store"`
	Lock     LockConfig    `mapstructure:"lock"`
	FanOut   FanOutConfig  `mapstructure:"fanout"`
	MaxSteps int           `mapstructure:"max_steps"`
	Log      LogConfig     `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	Tracing  TracingConfig `mapstructure:"tracing"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	// Driver is memory, sqlite, mysql or redis.
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// DSN is the MySQL data source name.
	DSN string `mapstructure:"dsn"`
	// Addr, Password and DB address Redis.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Prefix namespaces Redis keys for both the store and the locker.
	Prefix string `mapstructure:"prefix"`
}

// LockConfig selects the per-thread lock.
type LockConfig struct {
	// Driver is local or redis. The redis locker uses the store's Redis
	// address unless Addr is set.
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
	Addr   string        `mapstructure:"addr"`
}

// FanOutConfig mirrors workgraph.FanOutConfig.
type FanOutConfig struct {
	MaxParallelism int  `mapstructure:"max_parallelism"`
	BestEffort     bool `mapstructure:"best_effort"`
}

// LogConfig configures the slog logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Exporter string `mapstructure:"exporter"`
}

// TracingConfig toggles OpenTelemetry spans.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultEngine returns an in-process configuration: memory store, local
// lock, no metrics.
func DefaultEngine() Engine {
	return Engine{
		Store:    StoreConfig{Driver: DriverMemory, Prefix: "workgraph:"},
		Lock:     LockConfig{Driver: DriverLocal, TTL: workgraph.DefaultLockTTL},
		FanOut:   FanOutConfig{MaxParallelism: workgraph.DefaultMaxParallelism},
		MaxSteps: workgraph.DefaultMaxSteps,
		Log:      LogConfig{Level: "info"},
		Metrics:  MetricsConfig{Exporter: ExporterNone},
	}
}

// Engine decodes the configuration over DefaultEngine. Unknown keys are
// rejected so a misspelled option does not silently fall back to a default.
func (c Config) Engine() (Engine, error) {
	engine := DefaultEngine()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &engine,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Engine{}, fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(c.data); err != nil {
		return Engine{}, fmt.Errorf("decode engine config: %w", err)
	}
	if err := engine.Validate(); err != nil {
		return Engine{}, err
	}
	return engine, nil
}

// LoadEngine reads an engine configuration file. An empty path falls back
// to $WORKGRAPH_CONFIG, and then to DefaultEngine.
func LoadEngine(path string) (Engine, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return DefaultEngine(), nil
	}
	cfg, err := FromFile(path)
	if err != nil {
		return Engine{}, err
	}
	return cfg.Engine()
}

// Validate reports the first setting that cannot be opened.
func (e Engine) Validate() error {
	switch e.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite:
		if e.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for sqlite", ErrInvalidEngine)
		}
	case DriverMySQL:
		if e.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for mysql", ErrInvalidEngine)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidEngine, e.Store.Driver)
	}

	switch e.Lock.Driver {
	case DriverLocal:
	case DriverRedis:
		if e.Lock.Addr == "" && e.Store.Addr == "" {
			return fmt.Errorf("%w: lock.addr or store.addr is required for the redis lock", ErrInvalidEngine)
		}
	default:
		return fmt.Errorf("%w: unknown lock driver %q", ErrInvalidEngine, e.Lock.Driver)
	}

	if e.Store.Driver == DriverRedis && e.Store.Addr == "" {
		return fmt.Errorf("%w: store.addr is required for redis", ErrInvalidEngine)
	}

	switch e.Metrics.Exporter {
	case ExporterNone, ExporterOTel, ExporterPrometheus:
	default:
		return fmt.Errorf("%w: unknown metrics exporter %q", ErrInvalidEngine, e.Metrics.Exporter)
	}

	if e.MaxSteps < 1 {
		return fmt.Errorf("%w: max_steps must be positive", ErrInvalidEngine)
	}
	return nil
}
