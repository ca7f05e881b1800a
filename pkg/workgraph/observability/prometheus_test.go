package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums a gathered counter family, filtered by one label.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)
	ctx := context.Background()

	pm.RecordNodeExecution(ctx, "classify", time.Millisecond, nil)
	pm.RecordNodeExecution(ctx, "classify", time.Millisecond, errors.New("boom"))
	pm.RecordRun(ctx, "completed", time.Millisecond)
	pm.RecordCheckpoint(ctx, "completed", 1024)
	pm.RecordFanOut(ctx, "analyze", 3, 1, time.Millisecond)
	pm.RecordInterrupt(ctx, "approve", true)

	assert.Equal(t, float64(1), counterValue(t, reg, "workgraph_node_executions_total", "status", "success"))
	assert.Equal(t, float64(1), counterValue(t, reg, "workgraph_node_executions_total", "status", "error"))
	assert.Equal(t, float64(1), counterValue(t, reg, "workgraph_runs_total", "status", "completed"))
	assert.Equal(t, float64(2), counterValue(t, reg, "workgraph_fanout_branches_total", "status", "success"))
	assert.Equal(t, float64(1), counterValue(t, reg, "workgraph_fanout_branches_total", "status", "error"))
	assert.Equal(t, float64(1), counterValue(t, reg, "workgraph_interrupts_total", "event", "resume"))
}

func TestPrometheusMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)

	assert.Panics(t, func() { NewPrometheusMetrics(reg) })
}
