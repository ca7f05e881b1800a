package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordNodeExecution(ctx, "node", 100*time.Millisecond, errors.New("test"))
		m.RecordRun(ctx, "completed", time.Second)
		m.RecordCheckpoint(ctx, "running", 1024)
		m.RecordFanOut(ctx, "f", 3, 1, time.Second)
		m.RecordInterrupt(ctx, "n", true)
	})
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	t.Run("returns the same context", func(t *testing.T) {
		runCtx, span := sm.StartRunSpan(ctx, "t", "start")
		assert.Equal(t, ctx, runCtx)
		assert.False(t, span.IsRecording())

		nodeCtx, _ := sm.StartNodeSpan(ctx, "n")
		assert.Equal(t, ctx, nodeCtx)

		fanCtx, _ := sm.StartFanOutSpan(ctx, "f", 2)
		assert.Equal(t, ctx, fanCtx)
	})

	t.Run("end and events do not panic", func(t *testing.T) {
		_, span := sm.StartNodeSpan(ctx, "n")
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(span, errors.New("x"))
			sm.AddSpanEvent(ctx, "evt", attribute.String("k", "v"))
		})
	})
}
