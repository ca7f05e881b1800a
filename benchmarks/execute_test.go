package benchmarks

import (
	"context"
	"strconv"
	"testing"

	"github.com/randalmurphal/workgraph/pkg/workgraph"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
)

func newRunner(g *workgraph.Graph, opts ...workgraph.RunnerOption) *workgraph.Runner {
	opts = append([]workgraph.RunnerOption{workgraph.WithLogger(observability.NewNopLogger())}, opts...)
	return workgraph.NewRunner(mustCompile(g), checkpoint.NewMemoryStore(), opts...)
}

// benchStart starts a new thread per iteration; a completed thread would
// otherwise return its stored result.
func benchStart(b *testing.B, runner *workgraph.Runner, initial func(i int) workgraph.State) {
	b.Helper()
	ctx := context.Background()
	b.ResetTimer()
	for i := range b.N {
		if _, err := runner.Start(ctx, "t-"+strconv.Itoa(i), initial(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func emptyState(int) workgraph.State { return workgraph.State{} }

func BenchmarkRun_Linear_5(b *testing.B) {
	benchStart(b, newRunner(buildLinearGraph(5)), emptyState)
}

func BenchmarkRun_Linear_50(b *testing.B) {
	benchStart(b, newRunner(buildLinearGraph(50)), emptyState)
}

// BenchmarkRun_Branching runs a graph with conditional edges.
func BenchmarkRun_Branching(b *testing.B) {
	benchStart(b, newRunner(buildBranchingGraph()), func(i int) workgraph.State {
		return workgraph.State{"value": i}
	})
}

// BenchmarkRun_Loop_10 runs a counter loop for 10 iterations.
func BenchmarkRun_Loop_10(b *testing.B) {
	loop := func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
		v, _ := s["value"].(float64)
		return workgraph.Update(workgraph.State{"value": v + 1, "log": []any{v}}), nil
	}
	router := func(s workgraph.State) string {
		if v, _ := s["value"].(float64); v >= 10 {
			return "done"
		}
		return "loop"
	}
	graph := workgraph.NewGraph(benchSchema()).
		AddNode("loop", loop).
		AddConditionalEdge("loop", router, map[string]string{"loop": "loop", "done": workgraph.END}).
		SetEntry("loop")

	benchStart(b, newRunner(graph), emptyState)
}

// BenchmarkRun_SuspendResume measures a full interrupt round trip.
func BenchmarkRun_SuspendResume(b *testing.B) {
	approve := func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
		if _, ok := ctx.ResumeValue(); !ok {
			return workgraph.Suspend(map[string]any{"reason": "needs approval"}), nil
		}
		return workgraph.Update(workgraph.State{"log": []any{"approved"}}), nil
	}
	runner := newRunner(workgraph.NewGraph(benchSchema()).
		AddNode("approve", approve).
		AddEdge("approve", workgraph.END).
		SetEntry("approve"))
	ctx := context.Background()

	b.ResetTimer()
	for i := range b.N {
		thread := "t-" + strconv.Itoa(i)
		if _, err := runner.Start(ctx, thread, workgraph.State{}); err != nil {
			b.Fatal(err)
		}
		if _, err := runner.Resume(ctx, thread, true); err != nil {
			b.Fatal(err)
		}
	}
}

func benchFanOut(b *testing.B, branches, parallelism int) {
	items := make([]any, branches)
	for i := range items {
		items[i] = i
	}
	dispatch := func(s workgraph.State) []workgraph.Send {
		var sends []workgraph.Send
		for _, item := range s.GetList("items") {
			sends = append(sends, workgraph.Send{Node: "work", Input: workgraph.State{"item": item}})
		}
		return sends
	}
	work := func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
		return workgraph.Update(workgraph.State{"log": []any{s["item"]}}), nil
	}
	graph := workgraph.NewGraph(benchSchema()).
		AddNode("work", work).
		AddFanOut("spread", dispatch, workgraph.END, "work").
		SetEntry("spread")

	runner := newRunner(graph, workgraph.WithFanOutConfig(workgraph.FanOutConfig{MaxParallelism: parallelism}))
	benchStart(b, runner, func(int) workgraph.State { return workgraph.State{"items": items} })
}

func BenchmarkFanOut_16_Sequential(b *testing.B) { benchFanOut(b, 16, 1) }
func BenchmarkFanOut_16_Parallel8(b *testing.B)  { benchFanOut(b, 16, 8) }
func BenchmarkFanOut_128_Unbounded(b *testing.B) { benchFanOut(b, 128, 0) }

// BenchmarkContextCreation measures context creation overhead.
func BenchmarkContextCreation(b *testing.B) {
	bg := context.Background()
	for range b.N {
		workgraph.NewContext(bg)
	}
}
