package workgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/lock"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
)

// RunStatus is the outcome of one Runner invocation.
type RunStatus string

// Run outcomes.
const (
	RunCompleted     RunStatus = "complete"
	RunAwaitingInput RunStatus = "awaiting_input"
	RunFailed        RunStatus = "failed"
)

// RunResult is returned by Start, Resume and RetryFrom.
//
// For RunCompleted, State holds the final state. For RunAwaitingInput,
// Payload and InterruptID describe the pending question. For RunFailed,
// Error holds the failure and State the state before the failing step.
type RunResult struct {
	ThreadID    string
	Status      RunStatus
	State       State
	Payload     any
	InterruptID string
	// Sequence is the checkpoint sequence the invocation ended on.
	Sequence int
	Error    error
}

// ThreadStatus is a read-only view of a thread's latest checkpoint.
type ThreadStatus struct {
	ThreadID    string
	Status      checkpoint.Status
	Cursor      string
	Sequence    int
	Payload     any
	InterruptID string
	Error       string
	UpdatedAt   time.Time
}

// Pending describes why a suspended thread is waiting.
type Pending struct {
	InterruptID string
	NodeID      string
	Sequence    int
	Payload     any
	CreatedAt   time.Time
}

// Runner advances threads of one compiled graph, persisting every step to
// a checkpoint store. A Runner is safe for concurrent use; invocations on
// the same thread are serialized by the thread lock and different threads
// run in parallel.
//
// Example:
//
//	runner := workgraph.NewRunner(compiled, checkpoint.NewMemoryStore())
//	res, err := runner.Start(ctx, "ticket-42", workgraph.State{"query": "refund"})
//	if res.Status == workgraph.RunAwaitingInput {
//	    res, err = runner.Resume(ctx, "ticket-42", map[string]any{"approved": true})
//	}
type Runner struct {
	graph    *CompiledGraph
	store    checkpoint.Store
	locker   lock.Locker
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	maxSteps int
	fanOut   FanOutConfig
	lockTTL  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// NewRunner creates a Runner for graph backed by store.
// Panics if graph or store is nil.
func NewRunner(graph *CompiledGraph, store checkpoint.Store, opts ...RunnerOption) *Runner {
	if graph == nil {
		panic("workgraph: compiled graph cannot be nil")
	}
	if store == nil {
		panic("workgraph: checkpoint store cannot be nil")
	}

	r := &Runner{
		graph:    graph,
		store:    store,
		locker:   lock.Process(),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		maxSteps: DefaultMaxSteps,
		fanOut:   DefaultFanOutConfig(),
		lockTTL:  DefaultLockTTL,
		cancels:  make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Graph returns the compiled graph the Runner executes.
func (r *Runner) Graph() *CompiledGraph {
	return r.graph
}

// Cancel cancels the in-flight invocation on threadID, including any
// fan-out branches. The step being executed is discarded and the thread
// is persisted as failed with a *CancellationError.
// Returns false if no invocation is running for the thread in this process.
func (r *Runner) Cancel(threadID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[threadID]
	r.mu.Unlock()
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

// invoke runs fn under the thread lock with run-level observability.
func (r *Runner) invoke(ctx context.Context, threadID, op string, fn func(inv *invocation) (*RunResult, error)) (result *RunResult, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}

	unlock, err := r.locker.Lock(ctx, threadID, r.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock thread %s: %w", threadID, err)
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			r.logger.Warn("thread lock release failed", "thread_id", threadID, "error", uerr)
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	r.mu.Lock()
	r.cancels[threadID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, threadID)
		r.mu.Unlock()
		cancel(nil)
	}()

	spanCtx, span := r.spans.StartRunSpan(runCtx, threadID, op)
	defer func() {
		r.spans.EndSpanWithError(span, err)
	}()

	inv := &invocation{
		r:        r,
		ctx:      spanCtx,
		threadID: threadID,
		base: &executionContext{
			Context:  spanCtx,
			logger:   r.logger,
			threadID: threadID,
			branch:   -1,
		},
	}

	start := time.Now()
	result, err = fn(inv)
	duration := time.Since(start)
	durationMs := float64(duration.Microseconds()) / 1000

	status := string(RunFailed)
	if result != nil {
		status = string(result.Status)
	}
	r.metrics.RecordRun(ctx, status, duration)

	if err != nil {
		observability.LogRunError(r.logger, threadID, err, durationMs, lastNodeOf(err))
	} else {
		observability.LogRunComplete(r.logger, threadID, status, durationMs, inv.steps)
	}
	return result, err
}

// lastNodeOf extracts the step an error is attributed to, if any.
func lastNodeOf(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.NodeID
	}
	var fanErr *FanOutError
	if errors.As(err, &fanErr) {
		return fanErr.FanOutID
	}
	var maxErr *MaxIterationsError
	if errors.As(err, &maxErr) {
		return maxErr.LastNodeID
	}
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return cancelErr.NodeID
	}
	var routeErr *RoutingError
	if errors.As(err, &routeErr) {
		return routeErr.FromNode
	}
	return ""
}

// loadLatest returns the newest checkpoint of a thread, or nil for a
// thread that has never run.
func (r *Runner) loadLatest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	cp, err := r.store.LoadLatest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		observability.LogCheckpointError(r.logger, threadID, "load", err)
		return nil, &PersistenceError{ThreadID: threadID, Op: "load", Sequence: -1, Err: err}
	}
	if err := r.checkCompatible(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// checkCompatible rejects checkpoints this Runner cannot continue.
func (r *Runner) checkCompatible(cp *checkpoint.Checkpoint) error {
	if cp.Version != checkpoint.Version {
		return fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}
	if cp.Cursor != END && !r.graph.HasNode(cp.Cursor) {
		return fmt.Errorf("%w: thread %s sequence %d cursor %q",
			ErrInvalidCursor, cp.ThreadID, cp.Sequence, cp.Cursor)
	}
	return nil
}

// GetStatus reports the status of a thread without side effects.
// Returns an error wrapping ErrThreadNotFound for an unknown thread.
func (r *Runner) GetStatus(ctx context.Context, threadID string) (*ThreadStatus, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	cp, err := r.store.LoadLatest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, &PersistenceError{ThreadID: threadID, Op: "load", Sequence: -1, Err: err}
	}

	status := &ThreadStatus{
		ThreadID:  threadID,
		Status:    cp.Status,
		Cursor:    cp.Cursor,
		Sequence:  cp.Sequence,
		Error:     cp.Error,
		UpdatedAt: cp.CreatedAt,
	}
	if cp.Status == checkpoint.StatusSuspended {
		status.InterruptID = cp.InterruptID
		if status.Payload, err = decodePayload(cp.Payload); err != nil {
			return nil, err
		}
	}
	return status, nil
}

// GetPending returns why a thread is suspended, or nil if it is not
// suspended. It never changes the thread.
func (r *Runner) GetPending(ctx context.Context, threadID string) (*Pending, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	cp, err := r.store.LoadLatest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{ThreadID: threadID, Op: "load", Sequence: -1, Err: err}
	}
	if cp.Status != checkpoint.StatusSuspended {
		return nil, nil
	}

	pending := &Pending{
		InterruptID: cp.InterruptID,
		NodeID:      cp.Cursor,
		Sequence:    cp.Sequence,
		CreatedAt:   cp.CreatedAt,
	}
	raw := cp.Payload

	// The interrupt record is authoritative when it matches the checkpoint;
	// a missing record means the process stopped between the two writes.
	rec, err := r.store.GetInterrupt(ctx, threadID)
	switch {
	case err == nil && rec.InterruptID == cp.InterruptID:
		raw = rec.Payload
		pending.CreatedAt = rec.CreatedAt
	case err != nil && !errors.Is(err, checkpoint.ErrNotFound):
		return nil, &PersistenceError{ThreadID: threadID, Op: "get_interrupt", Sequence: cp.Sequence, Err: err}
	}

	if pending.Payload, err = decodePayload(raw); err != nil {
		return nil, err
	}
	return pending, nil
}

// History returns every retained checkpoint of a thread, oldest first.
func (r *Runner) History(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	cps, err := r.store.List(ctx, threadID)
	if err != nil {
		return nil, &PersistenceError{ThreadID: threadID, Op: "list", Sequence: -1, Err: err}
	}
	return cps, nil
}

// Prune deletes all but the keep newest checkpoints of a thread and
// returns how many were removed. The latest checkpoint is never removed.
func (r *Runner) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	if ctx == nil {
		return 0, ErrNilContext
	}
	n, err := r.store.Prune(ctx, threadID, keep)
	if err != nil {
		return 0, &PersistenceError{ThreadID: threadID, Op: "prune", Sequence: -1, Err: err}
	}
	r.logger.Debug("checkpoints pruned", "thread_id", threadID, "keep", keep, "removed", n)
	return n, nil
}

// Replay rebuilds a thread's state from its initial checkpoint by merging
// every recorded update in order. For an intact history the result equals
// the latest checkpoint's state.
func (r *Runner) Replay(ctx context.Context, threadID string) (State, error) {
	cps, err := r.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if cps[0].Sequence != 0 {
		return nil, fmt.Errorf("%w: thread %s starts at sequence %d", ErrHistoryPruned, threadID, cps[0].Sequence)
	}

	schema := r.graph.Schema()
	replayed := make(map[int]State, len(cps))
	state := State{}
	for _, cp := range cps {
		if cp.RetryOf != nil {
			base, ok := replayed[*cp.RetryOf]
			if !ok {
				return nil, fmt.Errorf("%w: retry base sequence %d", ErrHistoryPruned, *cp.RetryOf)
			}
			state = base
		}
		for _, update := range cp.Updates {
			if state, err = schema.Merge(state, update); err != nil {
				return nil, fmt.Errorf("replay sequence %d: %w", cp.Sequence, err)
			}
		}
		replayed[cp.Sequence] = state
	}
	return normalize(state)
}

// resultFromCheckpoint builds the RunResult a checkpoint represents.
func resultFromCheckpoint(cp *checkpoint.Checkpoint) (*RunResult, error) {
	res := &RunResult{
		ThreadID: cp.ThreadID,
		State:    State(cp.State).Clone(),
		Sequence: cp.Sequence,
	}
	switch cp.Status {
	case checkpoint.StatusCompleted:
		res.Status = RunCompleted
	case checkpoint.StatusSuspended:
		res.Status = RunAwaitingInput
		res.InterruptID = cp.InterruptID
		payload, err := decodePayload(cp.Payload)
		if err != nil {
			return nil, err
		}
		res.Payload = payload
	case checkpoint.StatusFailed:
		res.Status = RunFailed
		res.Error = errors.New(cp.Error)
	}
	return res, nil
}

func decodePayload(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode interrupt payload: %w", err)
	}
	return v, nil
}
