// Package retry re-runs workgraph nodes that fail with transient errors.
//
// A node wrapped with Node is invoked again, with exponential backoff, while
// it returns an error marked Transient. Any other error fails the step
// immediately. The wrapped node must be idempotent: every attempt sees the
// same input state and only the successful attempt's update is merged.
//
//	research := retry.Node(fetchReport, retry.Policy{MaxAttempts: 4, InitialBackoff: 200 * time.Millisecond})
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/randalmurphal/workgraph/pkg/workgraph"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// Retryable overrides IsTransient as the retryability check.
	Retryable func(error) bool
}

// DefaultPolicy is the standard retry configuration.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry runs every attempt exactly once.
var NoRetry = Policy{MaxAttempts: 1}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying. Transient(nil) is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or any error it wraps, was marked with
// Transient or reports itself as temporary.
func IsTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var temp interface{ Temporary() bool }
	return errors.As(err, &temp) && temp.Temporary()
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, returns a non-retryable error, ctx is done
// or the policy's attempts are used up. It returns the number of attempts
// made. Errors after the last attempt are wrapped in *ExhaustedError.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		if err == nil || !retryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			return attempt, &ExhaustedError{Attempts: attempt, Err: err}
		}

		timer := time.NewTimer(withJitter(backoff, p.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		if p.BackoffFactor > 0 {
			backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		}
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

// withJitter returns base +/- (base * jitter * random).
func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	return time.Duration(float64(base) + float64(base)*jitter*(rand.Float64()*2-1))
}

// Node wraps fn so transient failures are retried under p. Failed attempts
// are logged at warn level on the node's logger.
func Node(fn workgraph.NodeFunc, p Policy) workgraph.NodeFunc {
	return func(ctx workgraph.Context, state workgraph.State) (workgraph.Result, error) {
		var result workgraph.Result
		_, err := Do(ctx, p, func(_ context.Context, attempt int) error {
			res, err := fn(ctx, state.Clone())
			if err != nil {
				ctx.Logger().Warn("node attempt failed",
					"attempt", attempt,
					"transient", IsTransient(err),
					"err", err)
				return err
			}
			result = res
			return nil
		})
		return result, err
	}
}
