package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu         sync.RWMutex
	threads    map[string][]*Checkpoint // threadID -> checkpoints ordered by sequence
	interrupts map[string]*Interrupt
	closed     bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:    make(map[string][]*Checkpoint),
		interrupts: make(map[string]*Interrupt),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	// Copy before taking the lock to avoid retaining caller's maps
	stored, err := cp.clone()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	history := m.threads[cp.ThreadID]
	if n := len(history); n > 0 && history[n-1].Sequence >= cp.Sequence {
		return fmt.Errorf("%w: thread %s sequence %d <= %d",
			ErrSequenceConflict, cp.ThreadID, cp.Sequence, history[n-1].Sequence)
	}

	m.threads[cp.ThreadID] = append(history, stored)
	return nil
}

// LoadLatest implements Store.
func (m *MemoryStore) LoadLatest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history[len(history)-1].clone()
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, threadID string, sequence int) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	for _, cp := range m.threads[threadID] {
		if cp.Sequence == sequence {
			return cp.clone()
		}
	}
	return nil, ErrNotFound
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, threadID string) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	history := m.threads[threadID]
	result := make([]*Checkpoint, 0, len(history))
	for _, cp := range history {
		c, err := cp.clone()
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(_ context.Context, threadID string, keep int) (int, error) {
	if keep < 1 {
		return 0, ErrInvalidRetention
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	history := m.threads[threadID]
	if len(history) <= keep {
		return 0, nil
	}
	removed := len(history) - keep
	m.threads[threadID] = append([]*Checkpoint(nil), history[removed:]...)
	return removed, nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.threads, threadID)
	delete(m.interrupts, threadID)
	return nil
}

// PutInterrupt implements Store.
func (m *MemoryStore) PutInterrupt(_ context.Context, rec *Interrupt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.interrupts[rec.ThreadID] = rec.clone()
	return nil
}

// GetInterrupt implements Store.
func (m *MemoryStore) GetInterrupt(_ context.Context, threadID string) (*Interrupt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := m.interrupts[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// DeleteInterrupt implements Store.
func (m *MemoryStore) DeleteInterrupt(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.interrupts, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	m.interrupts = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, history := range m.threads {
		count += len(history)
	}
	return count
}
