package bastion

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = &statusErr{code: 503}

func TestRetryEventualSuccess(t *testing.T) {
	ctx := context.Background()
	opts := RetryOptions{
		MaxRetries:    3,
		BaseDelay:     5 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
	}

	var attempts []int
	opts.OnRetry = func(err error, attempt int) {
		if err == nil {
			t.Fatalf("OnRetry called without error")
		}
		attempts = append(attempts, attempt)
	}

	calls := 0
	v, err := Retry(ctx, opts, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("Retry = (%q, %v), want (ok, nil)", v, err)
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	ctx := context.Background()
	opts := RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond, BackoffFactor: 2}

	calls := 0
	_, err := Retry(ctx, opts, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 3 {
		t.Fatalf("op called %d times, want 3 (initial + 2 retries)", calls)
	}
	// The last error comes back unchanged.
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected the operation error, got %v", err)
	}
}

func TestRetryNonRetryableStopsImmediately(t *testing.T) {
	ctx := context.Background()

	t.Run("custom_predicate", func(t *testing.T) {
		sentinel := errors.New("fatal")
		opts := RetryOptions{
			MaxRetries:  5,
			BaseDelay:   time.Millisecond,
			ShouldRetry: func(err error) bool { return !errors.Is(err, sentinel) },
		}
		calls := 0
		_, err := Retry(ctx, opts, func(context.Context) (int, error) {
			calls++
			return 0, sentinel
		})
		if calls != 1 || !errors.Is(err, sentinel) {
			t.Fatalf("calls = %d, err = %v; want 1, sentinel", calls, err)
		}
	})

	t.Run("default_predicate_rejects_4xx", func(t *testing.T) {
		opts := RetryOptions{MaxRetries: 5, BaseDelay: time.Millisecond}
		calls := 0
		_, err := Retry(ctx, opts, func(context.Context) (int, error) {
			calls++
			return 0, &statusErr{code: 400}
		})
		if calls != 1 || err == nil {
			t.Fatalf("400 must not be retried; calls = %d, err = %v", calls, err)
		}
	})
}

func TestRetryZeroRetries(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryOptions{}, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 1 || err == nil {
		t.Fatalf("MaxRetries 0 must run exactly once; calls = %d, err = %v", calls, err)
	}
}

func TestRetryCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOptions{MaxRetries: 3, BaseDelay: time.Minute}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Retry(ctx, opts, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 1 {
		t.Fatalf("op called %d times, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation did not interrupt the sleep (took %v)", elapsed)
	}
}

func TestBackoffDelaySchedule(t *testing.T) {
	opts := RetryOptions{
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2,
	}

	want := []time.Duration{
		100 * time.Millisecond, // attempt 0
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond, // capped
		500 * time.Millisecond,
	}
	for attempt, w := range want {
		if got := backoffDelay(opts, attempt); got != w {
			t.Fatalf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	opts := RetryOptions{
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
		MaxJitter:     5 * time.Millisecond,
	}

	for i := 0; i < 200; i++ {
		d := backoffDelay(opts, 1)
		if d < 20*time.Millisecond || d >= 25*time.Millisecond {
			t.Fatalf("jittered delay %v outside [20ms, 25ms)", d)
		}
	}
}
