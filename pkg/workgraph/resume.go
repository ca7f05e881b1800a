package workgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/observability"
)

// Start runs a thread from its entry node with initial as the starting state.
//
// On a thread that already has checkpoints, Start does not restart it:
//   - completed: the final result is returned again
//   - running (the previous invocation stopped mid-way): execution continues
//     from the persisted cursor and initial is ignored
//   - suspended: *ResumeValueRequiredError; use Resume
//   - failed: *ThreadFailedError; use RetryFrom
//
// A failing step returns both a RunResult with status RunFailed and the error.
//
// Example:
//
//	res, err := runner.Start(ctx, "thread-1", workgraph.State{"intent": "none"})
//	if err != nil {
//	    // res.State holds the state before the failing step
//	}
func (r *Runner) Start(ctx context.Context, threadID string, initial State) (*RunResult, error) {
	return r.invoke(ctx, threadID, "start", func(inv *invocation) (*RunResult, error) {
		head, err := r.loadLatest(inv.ctx, threadID)
		if err != nil {
			return nil, err
		}

		if head == nil {
			schema := r.graph.Schema()
			if err := schema.Validate(initial); err != nil {
				return nil, fmt.Errorf("initial state: %w", err)
			}
			state, err := normalize(initial)
			if err != nil {
				return nil, fmt.Errorf("initial state: %w", err)
			}

			observability.LogRunStart(r.logger, threadID, "start", r.graph.EntryPoint())
			cp := checkpoint.New(threadID, 0, "", r.graph.EntryPoint(), checkpoint.StatusRunning, state).
				WithUpdates(state.Clone())
			if err := inv.save(cp); err != nil {
				return nil, err
			}
			return inv.run(state, r.graph.EntryPoint())
		}

		inv.head = head
		switch head.Status {
		case checkpoint.StatusCompleted:
			return resultFromCheckpoint(head)
		case checkpoint.StatusSuspended:
			return nil, &ResumeValueRequiredError{
				ThreadID:    threadID,
				NodeID:      head.Cursor,
				InterruptID: head.InterruptID,
			}
		case checkpoint.StatusFailed:
			return nil, &ThreadFailedError{
				ThreadID: threadID,
				NodeID:   head.Cursor,
				Sequence: head.Sequence,
				Cause:    head.Error,
			}
		}

		r.logger.Info("continuing interrupted thread", "thread_id", threadID, "sequence", head.Sequence)
		observability.LogRunStart(r.logger, threadID, "start", head.Cursor)
		return inv.run(State(head.State).Clone(), head.Cursor)
	})
}

// Resume delivers value to a suspended thread and runs it until it
// completes, suspends again or fails. The node that suspended is invoked
// again with value available from Context.ResumeValue.
//
// A resume value is consumed at most once: resuming a thread that already
// advanced past its interrupt returns *AlreadyResumedError without running
// anything. Resuming a thread that never suspended returns *NotSuspendedError.
//
// Example:
//
//	pending, _ := runner.GetPending(ctx, "thread-1")
//	res, err := runner.Resume(ctx, "thread-1", map[string]any{"approved": true},
//	    workgraph.ExpectInterrupt(pending.InterruptID))
func (r *Runner) Resume(ctx context.Context, threadID string, value any, opts ...ResumeOption) (*RunResult, error) {
	cfg := resumeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return r.invoke(ctx, threadID, "resume", func(inv *invocation) (*RunResult, error) {
		head, err := r.loadLatest(inv.ctx, threadID)
		if err != nil {
			return nil, err
		}
		if head == nil {
			return nil, &NotSuspendedError{ThreadID: threadID}
		}

		if head.Status != checkpoint.StatusSuspended {
			if head.LastInterruptID == "" {
				return nil, &NotSuspendedError{ThreadID: threadID, Status: string(head.Status)}
			}
			consumed := cfg.expectInterrupt
			if consumed == "" {
				consumed = head.LastInterruptID
			}
			return nil, &AlreadyResumedError{ThreadID: threadID, InterruptID: consumed}
		}
		if cfg.expectInterrupt != "" && cfg.expectInterrupt != head.InterruptID {
			return nil, &AlreadyResumedError{ThreadID: threadID, InterruptID: cfg.expectInterrupt}
		}

		inv.head = head
		inv.resume = value
		inv.resumeNode = head.Cursor
		inv.hasResume = true

		r.metrics.RecordInterrupt(inv.ctx, head.Cursor, true)
		observability.LogResume(r.logger, threadID, head.Cursor, head.InterruptID)
		observability.LogRunStart(r.logger, threadID, "resume", head.Cursor)
		res, err := inv.run(State(head.State).Clone(), head.Cursor)
		if err != nil && errors.Is(err, checkpoint.ErrSequenceConflict) && r.consumedElsewhere(inv.ctx, threadID, head) {
			return nil, &AlreadyResumedError{ThreadID: threadID, InterruptID: head.InterruptID}
		}
		return res, err
	})
}

// consumedElsewhere reports whether another holder advanced the thread past
// the suspension at head. This only happens when two Runners over one store
// do not share a locker.
func (r *Runner) consumedElsewhere(ctx context.Context, threadID string, head *checkpoint.Checkpoint) bool {
	cp, err := r.store.LoadLatest(context.WithoutCancel(ctx), threadID)
	if err != nil {
		return false
	}
	if cp.Status == checkpoint.StatusSuspended && cp.InterruptID == head.InterruptID {
		return false
	}
	r.logger.Warn("interrupt consumed by a concurrent resume",
		"thread_id", threadID, "interrupt_id", head.InterruptID, "head_sequence", cp.Sequence)
	return true
}

// RetryFrom is the administrative "retry from checkpoint N" operation. It
// appends a copy of checkpoint seq as the new head of the thread and
// continues from there. It also rewinds a healthy thread to an earlier step.
//
// Retrying a failed checkpoint re-runs the step that failed. Retrying a
// suspended checkpoint suspends the thread again with a fresh interrupt ID.
func (r *Runner) RetryFrom(ctx context.Context, threadID string, seq int) (*RunResult, error) {
	return r.invoke(ctx, threadID, "retry", func(inv *invocation) (*RunResult, error) {
		head, err := r.loadLatest(inv.ctx, threadID)
		if err != nil {
			return nil, err
		}
		if head == nil {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}

		target, err := r.store.Load(inv.ctx, threadID, seq)
		if err != nil {
			if !errors.Is(err, checkpoint.ErrNotFound) {
				observability.LogCheckpointError(r.logger, threadID, "load", err)
			}
			return nil, &PersistenceError{ThreadID: threadID, Op: "load", Sequence: seq, Err: err}
		}
		if err := r.checkCompatible(target); err != nil {
			return nil, err
		}

		inv.head = head
		state := State(target.State).Clone()

		status := target.Status
		if status == checkpoint.StatusFailed {
			status = checkpoint.StatusRunning
		}
		cp := checkpoint.New(threadID, 0, target.NodeID, target.Cursor, status, state).WithRetryOf(seq)
		if status == checkpoint.StatusSuspended {
			cp = cp.WithInterrupt(uuid.New().String(), target.Payload)
		}

		r.logger.Info("retrying thread from checkpoint",
			"thread_id", threadID, "from_sequence", seq, "head_sequence", head.Sequence)
		observability.LogRunStart(r.logger, threadID, "retry", target.Cursor)

		if err := inv.save(cp); err != nil {
			return nil, err
		}

		switch status {
		case checkpoint.StatusSuspended:
			if err := inv.putInterrupt(cp); err != nil {
				return nil, err
			}
			return resultFromCheckpoint(cp)
		case checkpoint.StatusCompleted:
			return resultFromCheckpoint(cp)
		}

		// A stale interrupt record must not outlive the suspension it described.
		if err := r.store.DeleteInterrupt(inv.ctx, threadID); err != nil {
			observability.LogCheckpointError(r.logger, threadID, "delete_interrupt", err)
		}
		return inv.run(state, target.Cursor)
	})
}
