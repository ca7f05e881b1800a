package workgraph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
	"go.opentelemetry.io/otel/attribute"
)

// branchOutcome is the result of one fan-out branch.
type branchOutcome struct {
	update State
	err    error
}

// fanOutStep dispatches a fan-out, runs every branch and merges their
// updates into state in dispatch order as a single checkpoint.
//
// A failed branch fails the whole step unless the Runner is configured
// best-effort. Cancellation discards every branch result.
func (inv *invocation) fanOutStep(state State, fanOutID string) (State, string, *RunResult, error) {
	fo, ok := inv.r.graph.getFanOut(fanOutID)
	if !ok {
		res, err := inv.fail(state, fanOutID, &NodeError{
			NodeID: fanOutID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, fanOutID),
		})
		return nil, "", res, err
	}

	sends, err := inv.dispatch(fanOutID, fo, state)
	if err != nil {
		res, ferr := inv.fail(state, fanOutID, err)
		return nil, "", res, ferr
	}

	inputs, err := inv.branchInputs(fanOutID, fo, state, sends)
	if err != nil {
		res, ferr := inv.fail(state, fanOutID, err)
		return nil, "", res, ferr
	}

	start := time.Now()
	spanCtx, span := inv.r.spans.StartFanOutSpan(inv.ctx, fanOutID, len(sends))
	outcomes := inv.runBranches(spanCtx, fanOutID, sends, inputs)
	duration := time.Since(start)

	if inv.ctx.Err() != nil {
		cause := &CancellationError{
			NodeID:       fanOutID,
			Cause:        context.Cause(inv.ctx),
			WasExecuting: true,
		}
		inv.r.spans.EndSpanWithError(span, cause)
		res, ferr := inv.fail(state, fanOutID, cause)
		return nil, "", res, ferr
	}

	var failures []error
	for i, out := range outcomes {
		if out.err != nil {
			failures = append(failures, &FanOutError{
				FanOutID: fanOutID,
				Branch:   i,
				NodeID:   sends[i].Node,
				Err:      out.err,
			})
			inv.r.spans.AddSpanEvent(spanCtx, "branch.failed",
				attribute.Int("branch", i),
				attribute.String("node.id", sends[i].Node))
		}
	}
	failed := errors.Join(failures...)

	inv.r.metrics.RecordFanOut(inv.ctx, fanOutID, len(sends), len(failures), duration)
	observability.LogFanOut(inv.r.logger, fanOutID, len(sends), len(failures),
		float64(duration.Microseconds())/1000)

	if failed != nil && !inv.r.fanOut.BestEffort {
		inv.r.spans.EndSpanWithError(span, failed)
		res, ferr := inv.fail(state, fanOutID, failed)
		return nil, "", res, ferr
	}

	// Merge in dispatch order so the result does not depend on which
	// branch finished first.
	merged := state
	updates := make([]map[string]any, 0, len(outcomes))
	for i, out := range outcomes {
		if out.err != nil {
			continue
		}
		next, err := inv.r.graph.Schema().Merge(merged, out.update)
		if err != nil {
			mergeErr := &FanOutError{
				FanOutID: fanOutID,
				Branch:   i,
				NodeID:   sends[i].Node,
				Err:      &NodeError{NodeID: sends[i].Node, Op: "merge", Err: err},
			}
			inv.r.spans.EndSpanWithError(span, mergeErr)
			res, ferr := inv.fail(state, fanOutID, mergeErr)
			return nil, "", res, ferr
		}
		merged = next
		updates = append(updates, out.update)
	}
	inv.r.spans.EndSpanWithError(span, nil)

	status := checkpoint.StatusRunning
	if fo.next == END {
		status = checkpoint.StatusCompleted
	}
	cp := checkpoint.New(inv.threadID, 0, fanOutID, fo.next, status, merged).WithUpdates(updates...)
	if failed != nil {
		cp = cp.WithError(failed.Error())
	}
	if err := inv.save(cp); err != nil {
		return nil, "", nil, err
	}
	return merged, fo.next, nil, nil
}

// dispatch calls the fan-out's dispatch function with panic recovery.
func (inv *invocation) dispatch(fanOutID string, fo fanOut, state State) (sends []Send, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &NodeError{
				NodeID: fanOutID,
				Op:     "dispatch",
				Err:    &PanicError{NodeID: fanOutID, Value: rec, Stack: string(debug.Stack())},
			}
		}
	}()
	return fo.dispatch(state.Clone()), nil
}

// branchInputs validates every Send and builds its input: the parent state
// with the Send's fields overlaid.
func (inv *invocation) branchInputs(fanOutID string, fo fanOut, state State, sends []Send) ([]State, error) {
	schema := inv.r.graph.Schema()
	inputs := make([]State, len(sends))
	for i, send := range sends {
		if !slices.Contains(fo.branches, send.Node) {
			return nil, &RoutingError{FromNode: fanOutID, Label: send.Node, Err: ErrInvalidBranch}
		}
		overlay, err := normalize(send.Input)
		if err != nil {
			return nil, &NodeError{NodeID: fanOutID, Op: "dispatch", Err: fmt.Errorf("branch %d input: %w", i, err)}
		}
		if err := schema.Validate(overlay); err != nil {
			return nil, &NodeError{NodeID: fanOutID, Op: "dispatch", Err: fmt.Errorf("branch %d input: %w", i, err)}
		}
		input := state.Clone()
		for k, v := range overlay {
			input[k] = v
		}
		inputs[i] = input
	}
	return inputs, nil
}

// runBranches executes the branches and returns their outcomes indexed by
// dispatch position. MaxParallelism 1 runs them in order on the caller's
// goroutine; otherwise they run on an ants pool.
func (inv *invocation) runBranches(ctx context.Context, fanOutID string, sends []Send, inputs []State) []branchOutcome {
	outcomes := make([]branchOutcome, len(sends))
	if len(sends) == 0 {
		return outcomes
	}

	size := inv.r.fanOut.MaxParallelism
	if size <= 0 || size > len(sends) {
		size = len(sends)
	}

	if size == 1 {
		for i := range sends {
			outcomes[i] = inv.runBranch(ctx, i, sends[i], inputs[i])
		}
		return outcomes
	}

	pool, err := ants.NewPool(size)
	if err != nil {
		for i := range outcomes {
			outcomes[i].err = fmt.Errorf("create fan-out worker pool for %s: %w", fanOutID, err)
		}
		return outcomes
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range sends {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = inv.runBranch(ctx, i, sends[i], inputs[i])
		})
		if err != nil {
			wg.Done()
			outcomes[i].err = fmt.Errorf("submit branch %d: %w", i, err)
		}
	}
	wg.Wait()
	return outcomes
}

// runBranch invokes one branch node. Each outcome slot is written by
// exactly one goroutine.
func (inv *invocation) runBranch(ctx context.Context, i int, send Send, input State) branchOutcome {
	if err := ctx.Err(); err != nil {
		return branchOutcome{err: context.Cause(ctx)}
	}

	fn, ok := inv.r.graph.getNode(send.Node)
	if !ok {
		return branchOutcome{err: fmt.Errorf("%w: %s", ErrNodeNotFound, send.Node)}
	}

	branchInv := *inv
	branchInv.ctx = ctx
	result, err := branchInv.callNode(send.Node, i, fn, input, nil, false)
	if err != nil {
		return branchOutcome{err: err}
	}
	if result.IsSuspend() {
		return branchOutcome{err: ErrSuspendInFanOut}
	}

	update, err := normalize(result.State())
	if err != nil {
		return branchOutcome{err: &NodeError{NodeID: send.Node, Op: "merge", Err: err}}
	}
	return branchOutcome{update: update}
}
