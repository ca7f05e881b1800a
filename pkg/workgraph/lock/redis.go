package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only if it still carries our token.
var unlockScript = backend.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the lock still carries our token.
var extendScript = backend.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// DefaultPollInterval is how often RedisLocker retries a contended lock.
const DefaultPollInterval = 50 * time.Millisecond

// RedisLocker is a distributed Locker built on SET NX PX. Use it when several
// processes share one checkpoint store.
//
// While a lock is held its TTL is extended every ttl/3, so a long invocation
// keeps exclusivity and only a holder that stops renewing (a crashed
// process) loses the lock after ttl.
type RedisLocker struct {
	client   *backend.Client
	prefix   string
	interval time.Duration
}

// RedisLockerOption configures a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithPollInterval sets how often a contended lock is retried.
func WithPollInterval(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.interval = d
		}
	}
}

// NewRedisLocker creates a Redis locker. Keys are stored as prefix+"lock:"+key.
func NewRedisLocker(client *backend.Client, prefix string, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:   client,
		prefix:   prefix,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock implements Locker. The lock expires after ttl even if never released.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			stop := l.keepAlive(ctx, lockKey, token, ttl)
			return func(ctx context.Context) error {
				stop()
				n, err := unlockScript.Run(ctx, l.client, []string{lockKey}, token).Int()
				if err != nil {
					return fmt.Errorf("release lock %s: %w", key, err)
				}
				if n == 0 {
					return fmt.Errorf("release lock %s: %w", key, ErrNotHeld)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// keepAlive extends the lock every ttl/3 until the returned stop function is
// called or the lock is found taken over. stop waits for the renewer to exit.
func (l *RedisLocker) keepAlive(ctx context.Context, lockKey, token string, ttl time.Duration) (stop func()) {
	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(max(ttl/3, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
			}
			n, err := extendScript.Run(renewCtx, l.client, []string{lockKey}, token, ttl.Milliseconds()).Int()
			if err == nil && n == 0 {
				// Expired or taken over; unlock reports ErrNotHeld.
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
