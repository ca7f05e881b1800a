package workgraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// supportGraph builds classify -> {A: handleA, B: handleB} -> respond -> END.
func supportGraph(tr *tracker, intent string) *Graph {
	classify := func(ctx Context, s State) (Result, error) {
		tr.record("classify")
		return Update(State{"intent": intent}), nil
	}
	respond := func(ctx Context, s State) (Result, error) {
		tr.record("respond")
		return Update(State{"messages": []any{"handled " + s.GetString("intent")}}), nil
	}

	return NewGraph(testSchema()).
		AddNode("classify", classify).
		AddNode("handleA", makeTrackingNode("handleA", tr, nil)).
		AddNode("handleB", makeTrackingNode("handleB", tr, nil)).
		AddNode("respond", respond).
		AddConditionalEdge("classify", func(s State) string { return s.GetString("intent") },
			map[string]string{"A": "handleA", "B": "handleB"}).
		AddEdge("handleA", "respond").
		AddEdge("handleB", "respond").
		AddEdge("respond", END).
		SetEntry("classify")
}

// Conditional routing follows the label and skips the other branch.
func TestRunner_ConditionalRouting(t *testing.T) {
	tr := &tracker{}
	runner, store := newTestRunner(t, supportGraph(tr, "A"))

	res, err := runner.Start(t.Context(), "thread-a", State{"intent": "none"})
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, "A", res.State["intent"])
	assert.Equal(t, []any{"handled A"}, res.State["messages"])
	assert.Equal(t, []string{"classify", "handleA", "respond"}, tr.list())
	assert.Zero(t, tr.count("handleB"))

	cps, err := store.List(t.Context(), "thread-a")
	require.NoError(t, err)
	require.Len(t, cps, 4, "initial checkpoint plus one per node")
	for i, cp := range cps {
		assert.Equal(t, i, cp.Sequence)
	}
	assert.Equal(t, checkpoint.StatusRunning, cps[0].Status)
	assert.Equal(t, "classify", cps[0].Cursor)
	assert.Equal(t, "handleA", cps[1].Cursor)
	assert.Equal(t, checkpoint.StatusCompleted, cps[3].Status)
	assert.Equal(t, END, cps[3].Cursor)
	assert.Equal(t, res.Sequence, cps[3].Sequence)
}

func TestRunner_LinearCounter(t *testing.T) {
	runner, _ := newTestRunner(t, NewGraph(testSchema()).
		AddNode("inc1", increment).
		AddNode("inc2", increment).
		AddNode("inc3", increment).
		AddEdge("inc1", "inc2").
		AddEdge("inc2", "inc3").
		AddEdge("inc3", END).
		SetEntry("inc1"))

	res, err := runner.Start(t.Context(), "counter", State{"count": 10})
	require.NoError(t, err)
	assert.Equal(t, float64(13), res.State["count"])
}

// Nodes receive a copy; mutating it does not leak into the thread.
func TestRunner_NodeStateIsCopy(t *testing.T) {
	mutate := func(ctx Context, s State) (Result, error) {
		s["intent"] = "mutated"
		return Update(nil), nil
	}
	runner, _ := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", mutate).
		AddEdge("a", END).
		SetEntry("a"))

	res, err := runner.Start(t.Context(), "t", State{"intent": "orig"})
	require.NoError(t, err)
	assert.Equal(t, "orig", res.State["intent"])
}

func TestRunner_DoneSkipsEdges(t *testing.T) {
	tr := &tracker{}
	finish := func(ctx Context, s State) (Result, error) {
		return Done(State{"intent": "early"}), nil
	}
	runner, store := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", finish).
		AddNode("b", makeTrackingNode("b", tr, nil)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a"))

	res, err := runner.Start(t.Context(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, "early", res.State["intent"])
	assert.Empty(t, tr.list())
	assert.Equal(t, checkpoint.StatusCompleted, latest(t, store, "t").Status)
}

func TestRunner_NodeContext(t *testing.T) {
	var seen struct {
		threadID, nodeID string
		branch           int
		hasResume        bool
	}
	inspect := func(ctx Context, s State) (Result, error) {
		seen.threadID = ctx.ThreadID()
		seen.nodeID = ctx.NodeID()
		seen.branch = ctx.Branch()
		_, seen.hasResume = ctx.ResumeValue()
		assert.NotNil(t, ctx.Logger())
		return Update(nil), nil
	}
	runner, _ := newTestRunner(t, NewGraph(testSchema()).
		AddNode("inspect", inspect).
		AddEdge("inspect", END).
		SetEntry("inspect"))

	_, err := runner.Start(t.Context(), "ctx-thread", nil)
	require.NoError(t, err)

	assert.Equal(t, "ctx-thread", seen.threadID)
	assert.Equal(t, "inspect", seen.nodeID)
	assert.Equal(t, -1, seen.branch)
	assert.False(t, seen.hasResume)
}

func TestRunner_InvalidArguments(t *testing.T) {
	runner, _ := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", increment).AddEdge("a", END).SetEntry("a"))

	//nolint:staticcheck // nil context is the case under test
	_, err := runner.Start(nil, "t", nil)
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = runner.Start(t.Context(), "", nil)
	assert.ErrorIs(t, err, ErrThreadIDRequired)

	_, err = runner.Start(t.Context(), "t", State{"unknown": 1})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = runner.Start(t.Context(), "t2", State{"count": "x"})
	assert.ErrorIs(t, err, ErrFieldType)
}

func TestNewRunner_Panics(t *testing.T) {
	compiled := mustCompile(t, NewGraph(testSchema()).AddNode("a", increment).AddEdge("a", END).SetEntry("a"))

	assert.Panics(t, func() { NewRunner(nil, checkpoint.NewMemoryStore()) })
	assert.Panics(t, func() { NewRunner(compiled, nil) })
}

// A node error fails the thread, is persisted, and is surfaced.
func TestRunner_NodeError(t *testing.T) {
	boom := errors.New("llm unavailable")
	runner, store := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", increment).
		AddNode("b", makeFailingNode(boom)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a"))

	res, err := runner.Start(t.Context(), "t", State{"count": 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "b", nodeErr.NodeID)
	assert.Equal(t, "execute", nodeErr.Op)

	require.NotNil(t, res)
	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, float64(1), res.State["count"], "state before the failing step")

	cp := latest(t, store, "t")
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Equal(t, "b", cp.Cursor)
	assert.Contains(t, cp.Error, "llm unavailable")

	// A failed thread never restarts automatically
	_, err = runner.Start(t.Context(), "t", nil)
	var failed *ThreadFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "b", failed.NodeID)
	assert.Equal(t, cp.Sequence, failed.Sequence)
	assert.ErrorIs(t, err, ErrThreadFailed)
}

func TestRunner_NodePanic(t *testing.T) {
	runner, store := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", makePanicNode("kaboom")).
		AddEdge("a", END).
		SetEntry("a"))

	res, err := runner.Start(t.Context(), "t", nil)
	require.Error(t, err)
	assert.Equal(t, RunFailed, res.Status)

	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, "a", panicErr.NodeID)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)

	assert.Equal(t, checkpoint.StatusFailed, latest(t, store, "t").Status)
}

func TestRunner_RouterPanic(t *testing.T) {
	runner, _ := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", increment).
		AddConditionalEdge("a", func(State) string { panic("bad router") }, map[string]string{"x": END}).
		SetEntry("a"))

	_, err := runner.Start(t.Context(), "t", nil)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "route", nodeErr.Op)
	var panicErr *PanicError
	assert.True(t, errors.As(err, &panicErr))
}

func TestRunner_UnmappedLabel(t *testing.T) {
	tr := &tracker{}
	runner, store := newTestRunner(t, supportGraph(tr, "C"))

	res, err := runner.Start(t.Context(), "t", State{"intent": "none"})

	var routeErr *RoutingError
	require.True(t, errors.As(err, &routeErr))
	assert.Equal(t, "classify", routeErr.FromNode)
	assert.Equal(t, "C", routeErr.Label)
	assert.ErrorIs(t, err, ErrUnmappedLabel)

	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, "none", res.State["intent"])

	cp := latest(t, store, "t")
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Equal(t, "classify", cp.Cursor)
}

func TestRunner_UnknownFieldInUpdate(t *testing.T) {
	runner, store := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", func(ctx Context, s State) (Result, error) {
			return Update(State{"undeclared": true}), nil
		}).
		AddEdge("a", END).
		SetEntry("a"))

	_, err := runner.Start(t.Context(), "t", nil)

	var unknown *UnknownFieldError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "undeclared", unknown.Field)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "merge", nodeErr.Op)
	assert.Equal(t, checkpoint.StatusFailed, latest(t, store, "t").Status)
}

func TestRunner_MaxSteps(t *testing.T) {
	runner, store := newTestRunner(t, NewGraph(testSchema()).
		AddNode("loop", increment).
		AddConditionalEdge("loop", func(s State) string { return "again" },
			map[string]string{"again": "loop", "stop": END}).
		SetEntry("loop"),
		WithMaxSteps(5))

	res, err := runner.Start(t.Context(), "t", State{"count": 0})

	var maxErr *MaxIterationsError
	require.True(t, errors.As(err, &maxErr))
	assert.Equal(t, 5, maxErr.Max)
	assert.Equal(t, "loop", maxErr.LastNodeID)
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, float64(5), res.State["count"])
	assert.Equal(t, checkpoint.StatusFailed, latest(t, store, "t").Status)
}

// Start on a completed thread returns the stored result without running nodes.
func TestRunner_StartCompletedIsIdempotent(t *testing.T) {
	tr := &tracker{}
	runner, store := newTestRunner(t, supportGraph(tr, "B"))

	first, err := runner.Start(t.Context(), "t", State{"intent": "none"})
	require.NoError(t, err)
	calls := len(tr.list())
	before := store.Len()

	second, err := runner.Start(t.Context(), "t", State{"intent": "other"})
	require.NoError(t, err)

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Sequence, second.Sequence)
	assert.Len(t, tr.list(), calls)
	assert.Equal(t, before, store.Len())
}

// A running head (the process stopped between steps) continues from its cursor.
func TestRunner_StartContinuesRunningThread(t *testing.T) {
	tr := &tracker{}
	g := NewGraph(testSchema()).
		AddNode("a", makeTrackingNode("a", tr, State{"messages": []any{"a"}})).
		AddNode("b", makeTrackingNode("b", tr, State{"messages": []any{"b"}})).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a")

	store := checkpoint.NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, store.Save(ctx, checkpoint.New("t", 0, "", "a", checkpoint.StatusRunning,
		map[string]any{}).WithUpdates(map[string]any{})))
	require.NoError(t, store.Save(ctx, checkpoint.New("t", 1, "a", "b", checkpoint.StatusRunning,
		map[string]any{"messages": []any{"a"}}).WithUpdates(map[string]any{"messages": []any{"a"}})))

	runner := NewRunner(mustCompile(t, g), store)
	res, err := runner.Start(ctx, "t", State{"intent": "ignored"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, tr.list())
	assert.Equal(t, []any{"a", "b"}, res.State["messages"])
	assert.Nil(t, res.State["intent"])
	assert.Equal(t, 2, res.Sequence)
}

func TestRunner_InvalidCursor(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save(t.Context(), checkpoint.New("t", 0, "", "removed-node",
		checkpoint.StatusRunning, map[string]any{})))

	runner := NewRunner(mustCompile(t, NewGraph(testSchema()).
		AddNode("a", increment).AddEdge("a", END).SetEntry("a")), store)

	_, err := runner.Start(t.Context(), "t", nil)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestRunner_VersionMismatch(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	cp := checkpoint.New("t", 0, "", "a", checkpoint.StatusRunning, map[string]any{})
	cp.Version = checkpoint.Version + 1
	require.NoError(t, store.Save(t.Context(), cp))

	runner := NewRunner(mustCompile(t, NewGraph(testSchema()).
		AddNode("a", increment).AddEdge("a", END).SetEntry("a")), store)

	_, err := runner.Start(t.Context(), "t", nil)
	assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
}

// A failed save is a PersistenceError; the thread stays at its last durable step.
func TestRunner_PersistenceError(t *testing.T) {
	mem := checkpoint.NewMemoryStore()
	store := &failingStore{Store: mem, failAfter: 2}
	tr := &tracker{}
	runner := NewRunner(mustCompile(t, NewGraph(testSchema()).
		AddNode("a", makeTrackingNode("a", tr, nil)).
		AddNode("b", makeTrackingNode("b", tr, nil)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a")), store)

	_, err := runner.Start(t.Context(), "t", nil)

	var persistErr *PersistenceError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, "save", persistErr.Op)
	assert.Equal(t, 2, persistErr.Sequence)
	assert.ErrorIs(t, err, errDiskFull)

	cp := latest(t, mem, "t")
	assert.Equal(t, checkpoint.StatusRunning, cp.Status)
	assert.Equal(t, "b", cp.Cursor)

	// Once the store recovers, Start retries the step that was not durable.
	store.failAfter = 100
	res, err := runner.Start(t.Context(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, []string{"a", "b", "b"}, tr.list())
}

func TestRunner_Cancel(t *testing.T) {
	started := make(chan struct{})
	block := func(ctx Context, s State) (Result, error) {
		close(started)
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	runner, store := newTestRunner(t, NewGraph(testSchema()).
		AddNode("slow", block).
		AddEdge("slow", END).
		SetEntry("slow"))

	assert.False(t, runner.Cancel("t"), "nothing in flight yet")

	done := make(chan error, 1)
	go func() {
		_, err := runner.Start(context.Background(), "t", nil)
		done <- err
	}()

	<-started
	assert.True(t, runner.Cancel("t"))

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled invocation did not return")
	}

	var cancelErr *CancellationError
	require.True(t, errors.As(err, &cancelErr))
	assert.Equal(t, "slow", cancelErr.NodeID)
	assert.True(t, cancelErr.WasExecuting)
	assert.ErrorIs(t, err, ErrCancelled)

	cp := latest(t, store, "t")
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Equal(t, "slow", cp.Cursor)
}

func TestRunner_ContextCancelledBeforeStep(t *testing.T) {
	tr := &tracker{}
	runner, store := newTestRunner(t, NewGraph(testSchema()).
		AddNode("a", makeTrackingNode("a", tr, nil)).
		AddEdge("a", END).
		SetEntry("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Start(ctx, "t", nil)
	require.Error(t, err)
	assert.Empty(t, tr.list())

	// The local lock respects the cancelled context, so nothing was written.
	assert.Equal(t, 0, store.Len())
}
