// Package observability provides production-grade observability features
// for workgraph: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// NewLogger creates a text logger writing to w at the given level
// ("debug", "info", "warn", "error"; default "info").
// Error attributes are renamed to "err" to keep lines short.
func NewLogger(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnrichLogger adds workgraph context to a logger.
// Returns a new logger with thread_id and node_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "thread-123", "classify")
//	enriched.Info("doing work") // includes thread_id, node_id
func EnrichLogger(logger *slog.Logger, threadID, nodeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
	)
}

// LogRunStart logs the start of a Runner invocation.
// op is "start", "resume" or "retry".
func LogRunStart(logger *slog.Logger, threadID, op, cursor string) {
	if logger == nil {
		return
	}
	logger.Info("thread run starting",
		slog.String("thread_id", threadID),
		slog.String("op", op),
		slog.String("cursor", cursor),
	)
}

// LogRunComplete logs an invocation that ended completed or suspended.
func LogRunComplete(logger *slog.Logger, threadID, status string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("thread run finished",
		slog.String("thread_id", threadID),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps_executed", steps),
	)
}

// LogRunError logs an invocation that failed.
func LogRunError(logger *slog.Logger, threadID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("thread run failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, threadID string, sequence int, status string) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("thread_id", threadID),
		slog.Int("sequence", sequence),
		slog.String("status", status),
	)
}

// LogCheckpointError logs a failed store operation.
func LogCheckpointError(logger *slog.Logger, threadID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("thread_id", threadID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogSuspend logs a thread pausing for input.
func LogSuspend(logger *slog.Logger, threadID, nodeID, interruptID string) {
	if logger == nil {
		return
	}
	logger.Info("thread suspended",
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
		slog.String("interrupt_id", interruptID),
	)
}

// LogResume logs a resume value being delivered.
func LogResume(logger *slog.Logger, threadID, nodeID, interruptID string) {
	if logger == nil {
		return
	}
	logger.Info("thread resuming",
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
		slog.String("interrupt_id", interruptID),
	)
}

// LogFanOut logs a finished fan-out step.
func LogFanOut(logger *slog.Logger, fanOutID string, branches, failed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("fan-out completed",
		slog.String("fan_out_id", fanOutID),
		slog.Int("branches", branches),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
