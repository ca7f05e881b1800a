package workgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
)

// invocation is one locked Runner call on a thread.
type invocation struct {
	r        *Runner
	ctx      context.Context
	threadID string
	base     *executionContext

	// head is the latest durable checkpoint.
	head  *checkpoint.Checkpoint
	steps int

	// resume is delivered to resumeNode on its first invocation only.
	resume     any
	resumeNode string
	hasResume  bool
}

// run executes steps from cursor until the thread completes, suspends or
// fails. state must be normalized and equal to the head checkpoint state.
//
// Execution flow:
//  1. Check the step limit and cancellation
//  2. Execute the node or fan-out named by the cursor
//  3. Merge the update and choose the next step
//  4. Persist a checkpoint
//  5. Repeat until END, a suspension or an error
func (inv *invocation) run(state State, cursor string) (*RunResult, error) {
	for cursor != END {
		inv.steps++
		if inv.steps > inv.r.maxSteps {
			return inv.fail(state, cursor, &MaxIterationsError{
				Max:        inv.r.maxSteps,
				LastNodeID: cursor,
			})
		}

		// Check for cancellation before executing the step
		if inv.ctx.Err() != nil {
			return inv.fail(state, cursor, &CancellationError{
				NodeID:       cursor,
				Cause:        context.Cause(inv.ctx),
				WasExecuting: false,
			})
		}

		var (
			res  *RunResult
			next string
			err  error
		)
		if inv.r.graph.IsFanOut(cursor) {
			state, next, res, err = inv.fanOutStep(state, cursor)
		} else {
			state, next, res, err = inv.nodeStep(state, cursor)
		}
		if err != nil || res != nil {
			return res, err
		}
		cursor = next
	}

	return resultFromCheckpoint(inv.head)
}

// nodeStep executes one node and persists its outcome. It returns a
// non-nil RunResult when the invocation ends at this step.
func (inv *invocation) nodeStep(state State, nodeID string) (State, string, *RunResult, error) {
	fn, ok := inv.r.graph.getNode(nodeID)
	if !ok {
		// Unreachable for a compiled graph with a checked cursor
		res, err := inv.fail(state, nodeID, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		})
		return nil, "", res, err
	}

	resumed := inv.hasResume && inv.resumeNode == nodeID
	var resumeValue any
	if resumed {
		resumeValue = inv.resume
		inv.hasResume = false
	}

	result, err := inv.callNode(nodeID, -1, fn, state, resumeValue, resumed)
	if inv.ctx.Err() != nil {
		res, ferr := inv.fail(state, nodeID, &CancellationError{
			NodeID:       nodeID,
			Cause:        context.Cause(inv.ctx),
			WasExecuting: true,
		})
		return nil, "", res, ferr
	}
	if err != nil {
		res, ferr := inv.fail(state, nodeID, err)
		return nil, "", res, ferr
	}

	if result.IsSuspend() {
		res, serr := inv.suspend(state, nodeID, result.Payload())
		return nil, "", res, serr
	}

	update, merged, err := inv.mergeUpdate(state, result.State())
	if err != nil {
		res, ferr := inv.fail(state, nodeID, &NodeError{NodeID: nodeID, Op: "merge", Err: err})
		return nil, "", res, ferr
	}

	next := END
	if !result.IsDone() {
		if next, err = inv.nextStep(nodeID, merged); err != nil {
			res, ferr := inv.fail(state, nodeID, err)
			return nil, "", res, ferr
		}
	}

	status := checkpoint.StatusRunning
	if next == END {
		status = checkpoint.StatusCompleted
	}
	cp := checkpoint.New(inv.threadID, 0, nodeID, next, status, merged).WithUpdates(update)
	if err := inv.save(cp); err != nil {
		return nil, "", nil, err
	}

	if resumed {
		if err := inv.r.store.DeleteInterrupt(inv.ctx, inv.threadID); err != nil {
			observability.LogCheckpointError(inv.r.logger, inv.threadID, "delete_interrupt", err)
		}
	}
	return merged, next, nil, nil
}

// callNode invokes a node with panic recovery, a node span, metrics and
// logging. Errors are returned as *NodeError.
func (inv *invocation) callNode(nodeID string, branch int, fn NodeFunc, state State, resumeValue any, resumed bool) (result Result, err error) {
	spanCtx, span := inv.r.spans.StartNodeSpan(inv.ctx, nodeID)
	nodeCtx := inv.base.withNode(nodeID, branch)
	nodeCtx.Context = spanCtx
	if resumed {
		nodeCtx = nodeCtx.withResume(resumeValue)
	}

	logger := nodeCtx.Logger()
	observability.LogNodeStart(logger, nodeID)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = Result{}
			err = &NodeError{
				NodeID: nodeID,
				Op:     "execute",
				Err: &PanicError{
					NodeID: nodeID,
					Value:  rec,
					Stack:  string(debug.Stack()),
				},
			}
		}

		duration := time.Since(start)
		inv.r.metrics.RecordNodeExecution(spanCtx, nodeID, duration, err)
		inv.r.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogNodeError(logger, nodeID, err)
		} else {
			observability.LogNodeComplete(logger, nodeID, float64(duration.Microseconds())/1000)
		}
	}()

	// Nodes get their own copy of the state
	result, err = fn(nodeCtx, state.Clone())
	if err != nil {
		return Result{}, &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return result, nil
}

// mergeUpdate normalizes a partial update and merges it into state.
// The normalized update is what the checkpoint records for replay.
func (inv *invocation) mergeUpdate(state, partial State) (State, State, error) {
	update, err := normalize(partial)
	if err != nil {
		return nil, nil, err
	}
	merged, err := inv.r.graph.Schema().Merge(state, update)
	if err != nil {
		return nil, nil, err
	}
	return update, merged, nil
}

// nextStep resolves the step that follows nodeID given the merged state.
func (inv *invocation) nextStep(nodeID string, state State) (next string, err error) {
	if to, ok := inv.r.graph.edges[nodeID]; ok {
		return to, nil
	}

	edge, ok := inv.r.graph.conditional[nodeID]
	if !ok {
		return "", &NodeError{
			NodeID: nodeID,
			Op:     "route",
			Err:    fmt.Errorf("%w: %s", ErrNoOutgoingEdge, nodeID),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &NodeError{
				NodeID: nodeID,
				Op:     "route",
				Err:    &PanicError{NodeID: nodeID, Value: rec, Stack: string(debug.Stack())},
			}
		}
	}()

	label := edge.router(state.Clone())
	to, ok := edge.routes[label]
	if !ok {
		return "", &RoutingError{FromNode: nodeID, Label: label, Err: ErrUnmappedLabel}
	}
	return to, nil
}

// suspend persists a suspension at nodeID and writes its interrupt record.
func (inv *invocation) suspend(state State, nodeID string, payload any) (*RunResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return inv.fail(state, nodeID, &NodeError{
			NodeID: nodeID,
			Op:     "suspend",
			Err:    fmt.Errorf("encode payload: %w", err),
		})
	}

	interruptID := uuid.New().String()
	cp := checkpoint.New(inv.threadID, 0, nodeID, nodeID, checkpoint.StatusSuspended, state).
		WithInterrupt(interruptID, raw)
	if err := inv.save(cp); err != nil {
		return nil, err
	}
	if err := inv.putInterrupt(cp); err != nil {
		return nil, err
	}

	inv.r.metrics.RecordInterrupt(inv.ctx, nodeID, false)
	observability.LogSuspend(inv.r.logger, inv.threadID, nodeID, interruptID)
	return resultFromCheckpoint(cp)
}

func (inv *invocation) putInterrupt(cp *checkpoint.Checkpoint) error {
	rec := &checkpoint.Interrupt{
		ThreadID:    cp.ThreadID,
		InterruptID: cp.InterruptID,
		NodeID:      cp.Cursor,
		Sequence:    cp.Sequence,
		Payload:     cp.Payload,
		CreatedAt:   cp.CreatedAt,
	}
	if err := inv.r.store.PutInterrupt(inv.ctx, rec); err != nil {
		observability.LogCheckpointError(inv.r.logger, inv.threadID, "put_interrupt", err)
		return &PersistenceError{ThreadID: inv.threadID, Op: "put_interrupt", Sequence: cp.Sequence, Err: err}
	}
	return nil
}

// fail persists a failed checkpoint holding the pre-step state and returns
// cause to the caller. The cursor stays on the failed step so an
// administrative retry re-runs it.
func (inv *invocation) fail(state State, stepID string, cause error) (*RunResult, error) {
	cp := checkpoint.New(inv.threadID, 0, stepID, stepID, checkpoint.StatusFailed, state).
		WithError(cause.Error())

	// The failure is recorded even when the caller's context is done.
	if err := inv.saveWith(context.WithoutCancel(inv.ctx), cp); err != nil {
		return nil, errors.Join(cause, err)
	}

	return &RunResult{
		ThreadID: inv.threadID,
		Status:   RunFailed,
		State:    state.Clone(),
		Sequence: cp.Sequence,
		Error:    cause,
	}, cause
}

// save appends cp as the next checkpoint of the thread.
func (inv *invocation) save(cp *checkpoint.Checkpoint) error {
	return inv.saveWith(inv.ctx, cp)
}

func (inv *invocation) saveWith(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if inv.head != nil {
		cp.Sequence = inv.head.Sequence + 1
		if cp.LastInterruptID == "" {
			cp.LastInterruptID = inv.head.LastInterruptID
		}
	}

	data, err := cp.Marshal()
	if err != nil {
		return &PersistenceError{ThreadID: inv.threadID, Op: "marshal", Sequence: cp.Sequence, Err: err}
	}

	if err := inv.r.store.Save(ctx, cp); err != nil {
		observability.LogCheckpointError(inv.r.logger, inv.threadID, "save", err)
		return &PersistenceError{ThreadID: inv.threadID, Op: "save", Sequence: cp.Sequence, Err: err}
	}

	inv.head = cp
	observability.LogCheckpoint(inv.r.logger, inv.threadID, cp.Sequence, string(cp.Status))
	inv.r.metrics.RecordCheckpoint(ctx, string(cp.Status), int64(len(data)))
	return nil
}
