// Package checkpoint provides durable, append-only checkpoint storage for
// workgraph threads, plus the interrupt records of suspended threads.
package checkpoint

import (
	"context"
	"errors"
)

// Store persists checkpoints and interrupt records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save appends a checkpoint. Sequence numbers must strictly increase per
	// thread; saving a sequence at or below the latest returns ErrSequenceConflict.
	Save(ctx context.Context, cp *Checkpoint) error

	// LoadLatest returns the checkpoint with the highest sequence.
	// Returns ErrNotFound for a fresh thread.
	LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Load returns the checkpoint at a specific sequence.
	// Returns ErrNotFound if it does not exist (or was pruned).
	Load(ctx context.Context, threadID string, sequence int) (*Checkpoint, error)

	// List returns all retained checkpoints for a thread, ordered by sequence.
	// Returns an empty slice (not error) for an unknown thread.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Prune removes all but the keep newest checkpoints of a thread and
	// returns how many were removed. keep must be at least 1, so the latest
	// checkpoint is never removed.
	Prune(ctx context.Context, threadID string, keep int) (int, error)

	// DeleteThread removes every checkpoint and the interrupt record of a thread.
	DeleteThread(ctx context.Context, threadID string) error

	// PutInterrupt creates or replaces the interrupt record of a thread.
	PutInterrupt(ctx context.Context, rec *Interrupt) error

	// GetInterrupt returns the interrupt record, or ErrNotFound.
	GetInterrupt(ctx context.Context, threadID string) (*Interrupt, error)

	// DeleteInterrupt removes the interrupt record. Returns nil if absent.
	DeleteInterrupt(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint or interrupt record doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrSequenceConflict indicates a save that would not advance the thread.
	ErrSequenceConflict = errors.New("checkpoint sequence conflict")

	// ErrInvalidRetention indicates a prune request that would drop the latest checkpoint.
	ErrInvalidRetention = errors.New("retention must keep at least one checkpoint")
)
