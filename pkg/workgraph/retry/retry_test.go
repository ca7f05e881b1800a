package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/randalmurphal/workgraph/pkg/workgraph"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
	"github.com/randalmurphal/workgraph/pkg/workgraph/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("upstream busy")

// fast retries without waiting.
var fast = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffFactor: 2}

func TestTransient(t *testing.T) {
	assert.NoError(t, retry.Transient(nil))

	err := retry.Transient(errBusy)
	assert.True(t, retry.IsTransient(err))
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, "upstream busy", err.Error())

	wrapped := &workgraph.NodeError{NodeID: "n", Op: "execute", Err: err}
	assert.True(t, retry.IsTransient(wrapped))
	assert.False(t, retry.IsTransient(errBusy))
	assert.False(t, retry.IsTransient(nil))
}

type temporaryError struct{ temp bool }

func (e temporaryError) Error() string   { return "temporary" }
func (e temporaryError) Temporary() bool { return e.temp }

func TestIsTransient_Temporary(t *testing.T) {
	assert.True(t, retry.IsTransient(temporaryError{temp: true}))
	assert.False(t, retry.IsTransient(temporaryError{temp: false}))
}

func TestDo(t *testing.T) {
	tests := []struct {
		name     string
		failures []error
		attempts int
		check    func(*testing.T, error)
	}{
		{
			name:     "first attempt succeeds",
			attempts: 1,
			check:    func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:     "transient then success",
			failures: []error{retry.Transient(errBusy), retry.Transient(errBusy)},
			attempts: 3,
			check:    func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:     "permanent stops immediately",
			failures: []error{errBusy},
			attempts: 1,
			check: func(t *testing.T, err error) {
				assert.Equal(t, errBusy, err)
			},
		},
		{
			name:     "exhausted",
			failures: []error{retry.Transient(errBusy), retry.Transient(errBusy), retry.Transient(errBusy)},
			attempts: 3,
			check: func(t *testing.T, err error) {
				var exhausted *retry.ExhaustedError
				require.ErrorAs(t, err, &exhausted)
				assert.Equal(t, 3, exhausted.Attempts)
				assert.ErrorIs(t, err, errBusy)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts, err := retry.Do(t.Context(), fast, func(_ context.Context, attempt int) error {
				if attempt <= len(tt.failures) {
					return tt.failures[attempt-1]
				}
				return nil
			})
			assert.Equal(t, tt.attempts, attempts)
			tt.check(t, err)
		})
	}
}

func TestDo_CustomRetryable(t *testing.T) {
	p := fast
	p.Retryable = func(err error) bool { return errors.Is(err, errBusy) }

	attempts, err := retry.Do(t.Context(), p, func(context.Context, int) error { return errBusy })
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, errBusy)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts, err := retry.Do(t.Context(), retry.Policy{}, func(context.Context, int) error {
		return retry.Transient(errBusy)
	})
	assert.Equal(t, 1, attempts)
	assert.Error(t, err)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	p := retry.Policy{MaxAttempts: 5, InitialBackoff: time.Hour}

	attempts, err := retry.Do(ctx, p, func(context.Context, int) error {
		cancel()
		return retry.Transient(errBusy)
	})
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errBusy)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	attempts, err := retry.Do(ctx, fast, func(context.Context, int) error {
		called = true
		return nil
	})
	assert.Zero(t, attempts)
	assert.False(t, called)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNode_InGraph(t *testing.T) {
	schema := workgraph.NewSchema().
		Declare("report", workgraph.TypeString, workgraph.Overwrite).
		Declare("seen", workgraph.TypeList, workgraph.Append)

	calls := 0
	flaky := func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
		calls++
		// Mutations of one attempt are invisible to the next.
		s["report"] = "tampered"
		if calls < 3 {
			return workgraph.Result{}, retry.Transient(errBusy)
		}
		return workgraph.Update(workgraph.State{"report": "ok", "seen": []any{calls}}), nil
	}

	graph, err := workgraph.NewGraph(schema).
		AddNode("fetch", retry.Node(flaky, fast)).
		AddEdge("fetch", workgraph.END).
		SetEntry("fetch").
		Compile()
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	runner := workgraph.NewRunner(graph, store, workgraph.WithLogger(observability.NewNopLogger()))

	res, err := runner.Start(t.Context(), "t", workgraph.State{})
	require.NoError(t, err)
	assert.Equal(t, workgraph.RunCompleted, res.Status)
	assert.Equal(t, "ok", res.State["report"])
	assert.Equal(t, []any{float64(3)}, res.State["seen"])
	assert.Equal(t, 3, calls)

	// One checkpoint for the initial state and one for the retried step.
	assert.Equal(t, 2, store.Len())
}

func TestNode_PermanentFailureFailsStep(t *testing.T) {
	node := retry.Node(func(workgraph.Context, workgraph.State) (workgraph.Result, error) {
		return workgraph.Result{}, errBusy
	}, fast)

	_, err := node(workgraph.NewContext(t.Context()), workgraph.State{})
	assert.Equal(t, errBusy, err)
}

func TestNode_PassesSuspendThrough(t *testing.T) {
	node := retry.Node(func(workgraph.Context, workgraph.State) (workgraph.Result, error) {
		return workgraph.Suspend("approve?"), nil
	}, retry.DefaultPolicy)

	res, err := node(workgraph.NewContext(t.Context()), workgraph.State{})
	require.NoError(t, err)
	assert.True(t, res.IsSuspend())
	assert.Equal(t, "approve?", res.Payload())
}
