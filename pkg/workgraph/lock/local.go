package lock

import (
	"context"
	"sync"
	"time"
)

// lockEntry is a one-slot semaphore plus the number of callers holding or
// waiting on it. Entries are removed when nobody references them.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process Locker keyed by string.
// Unlike sync.Mutex, waiting honors context cancellation.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// process is shared by every Runner and config.Runtime that was not given a
// Locker of its own, so two Runners over one store exclude each other.
var process = NewLocalLocker()

// Process returns the process-wide LocalLocker.
func Process() *LocalLocker {
	return process
}

// NewLocalLocker creates an empty in-process locker. Runners only exclude
// each other when they share a locker; most callers want Process.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*lockEntry)}
}

// Lock implements Locker. ttl is ignored: an in-process holder cannot
// outlive the process that would release it.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (UnlockFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry := l.acquire(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-entry.sem
			l.release(key)
		})
		return nil
	}, nil
}

func (l *LocalLocker) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently locked or awaited.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
