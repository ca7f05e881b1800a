// Package lock provides the per-thread exclusive lock that keeps two Runner
// invocations from advancing the same thread at once.
package lock

import (
	"context"
	"errors"
	"time"
)

// UnlockFunc releases a lock acquired by Locker.Lock.
type UnlockFunc func(ctx context.Context) error

// Locker grants exclusive access to a key.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	// ttl bounds how long a crashed holder can keep a distributed lock;
	// in-process implementations may ignore it.
	// The returned UnlockFunc must be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// ErrNotHeld is returned by an UnlockFunc when the lock expired or was
// taken over before it was released.
var ErrNotHeld = errors.New("lock not held")
