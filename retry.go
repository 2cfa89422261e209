package bastion

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryOptions tune one Retry call. Options are read once at call time; a
// single value can be shared by concurrent calls.
type RetryOptions struct {
	// MaxRetries is the number of re-attempts after the initial one, so a
	// permanently failing op runs MaxRetries+1 times.
	MaxRetries int

	// BaseDelay seeds the exponential schedule; BackoffFactor multiplies it
	// per attempt and MaxDelay caps the result (before jitter).
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// MaxJitter bounds the random addition to each delay, desynchronizing
	// concurrent retriers.
	MaxJitter time.Duration

	// ShouldRetry decides whether an error is worth another attempt.
	// nil => IsRetryable.
	ShouldRetry func(error) bool

	// OnRetry is invoked before each re-attempt with the error that caused
	// it and the 1-based number of the upcoming retry. For observability
	// only; keep it cheap.
	OnRetry func(err error, attempt int)
}

// DefaultRetryOptions match common transient-failure handling: 3 retries,
// 1s base doubling up to 30s, with up to 100ms of jitter.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		MaxJitter:     100 * time.Millisecond,
	}
}

// Retry executes op with bounded, jittered exponential backoff. Attempt 0
// runs immediately. On failure, when attempts are exhausted or ShouldRetry
// rejects the error, the last error is returned unchanged (no wrapping that
// would hide the original cause). The inter-attempt sleep honors ctx: a
// cancelled context aborts the loop with the context error.
func Retry[T any](ctx context.Context, opts RetryOptions, op func(context.Context) (T, error)) (T, error) {
	var zero T

	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= opts.MaxRetries || !shouldRetry(err) {
			return zero, err
		}
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt+1)
		}
		if serr := sleep(ctx, backoffDelay(opts, attempt)); serr != nil {
			return zero, serr
		}
	}
}

// backoffDelay computes min(MaxDelay, BaseDelay * BackoffFactor^attempt) plus
// random jitter in [0, MaxJitter).
func backoffDelay(opts RetryOptions, attempt int) time.Duration {
	factor := opts.BackoffFactor
	if factor <= 0 {
		factor = 1
	}

	d := float64(opts.BaseDelay) * math.Pow(factor, float64(attempt))
	if max := float64(opts.MaxDelay); opts.MaxDelay > 0 && d > max {
		d = max
	}
	delay := time.Duration(d)
	if opts.MaxJitter > 0 {
		delay += rand.N(opts.MaxJitter)
	}
	return delay
}

// sleep waits for d but returns early with the context error when ctx is
// cancelled. Zero and negative durations return immediately.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry aborted: %w", ctx.Err())
	}
}
