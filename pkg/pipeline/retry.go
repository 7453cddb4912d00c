package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy retries an operation on transient failures with exponential
// backoff. One policy object serves the whole pipeline: the engine applies
// it around operator invocations, and operators that make several
// collaborator calls per invocation (extraction, embedding) apply the same
// policy around each call.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, first attempt included.
	// Values below 1 behave like 1.
	MaxAttempts int
	// InitialBackoff is the delay after the first failed attempt; it
	// doubles per attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable decides whether an error is worth another attempt. When
	// nil, nothing is retried.
	Retryable func(error) bool
}

// DefaultRetryPolicy matches the upstream model-provider guidance: three
// attempts, 500ms doubling backoff capped at 8s. The retryable predicate
// is left for the pipeline builder to fill from its classifier.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (p RetryPolicy) retryable(err error) bool {
	return p.Retryable != nil && p.Retryable(err)
}

// ExhaustedError wraps a transient error whose retry budget ran out. The
// retry layer returns it so outer layers record an item failure instead of
// retrying the same call chain again.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, the attempt cap is reached, a
// non-retryable error occurs, or ctx is done. Context errors are returned
// as-is so callers can tell cancellation from exhaustion.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := RetryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue is Do for operations that return a value.
func RetryValue[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if !p.retryable(err) {
			return zero, lastErr
		}
		if attempt == attempts {
			return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
		}
		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
