package workgraph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
	"github.com/stretchr/testify/require"
)

// testSchema declares the fields used across tests.
func testSchema() *Schema {
	return NewSchema().
		Declare("intent", TypeString, Overwrite).
		Declare("messages", TypeList, Append).
		Declare("results", TypeList, Append).
		Declare("competitors", TypeList, Overwrite).
		Declare("competitor", TypeString, Overwrite).
		Declare("approved", TypeAny, Overwrite).
		Declare("count", TypeNumber, Overwrite).
		Declare("meta", TypeRecord, Overwrite)
}

// tracker records node invocations safely across goroutines.
type tracker struct {
	mu    sync.Mutex
	calls []string
}

func (tr *tracker) record(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, name)
}

func (tr *tracker) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.calls...)
}

func (tr *tracker) count(name string) int {
	n := 0
	for _, c := range tr.list() {
		if c == name {
			n++
		}
	}
	return n
}

// makeTrackingNode creates a node that records its execution and returns update.
func makeTrackingNode(name string, tr *tracker, update State) NodeFunc {
	return func(ctx Context, s State) (Result, error) {
		tr.record(name)
		return Update(update), nil
	}
}

// increment adds one to the count field.
func increment(ctx Context, s State) (Result, error) {
	n, _ := s["count"].(float64)
	return Update(State{"count": n + 1}), nil
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc {
	return func(ctx Context, s State) (Result, error) {
		return Result{}, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc {
	return func(ctx Context, s State) (Result, error) {
		panic(value)
	}
}

// mustCompile compiles g or fails the test.
func mustCompile(t *testing.T, g *Graph) *CompiledGraph {
	t.Helper()
	compiled, err := g.Compile()
	require.NoError(t, err)
	return compiled
}

// newTestRunner builds a Runner over a fresh MemoryStore with a silent logger.
func newTestRunner(t *testing.T, g *Graph, opts ...RunnerOption) (*Runner, *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]RunnerOption{WithLogger(observability.NewNopLogger())}, opts...)
	return NewRunner(mustCompile(t, g), store, opts...), store
}

// latest loads the newest checkpoint of a thread.
func latest(t *testing.T, store checkpoint.Store, threadID string) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := store.LoadLatest(context.Background(), threadID)
	require.NoError(t, err)
	return cp
}

// failingStore wraps a Store and fails Save after a number of successes.
type failingStore struct {
	checkpoint.Store
	mu        sync.Mutex
	saves     int
	failAfter int
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saves >= f.failAfter {
		return errDiskFull
	}
	f.saves++
	return f.Store.Save(ctx, cp)
}
