package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return MarkTransient(errors.New("database is locked"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("unexpected attempts: got %d want 3", attempts)
	}
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	t.Parallel()

	permanent := errors.New("disk full")
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxRetries: 5, Backoff: time.Millisecond}, func(context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("unexpected attempts: got %d want 1", attempts)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}, func(context.Context) error {
		attempts++
		return MarkTransient(errors.New("serialization failure"))
	})
	if !IsTransient(err) {
		t.Fatalf("expected transient error after exhausting retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("unexpected attempts: got %d want 3", attempts)
	}
}

func TestRetryHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Retry(ctx, RetryPolicy{MaxRetries: 3}, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if called {
		t.Fatalf("did not expect op to run with a canceled context")
	}
}

func TestBackoffDurationCaps(t *testing.T) {
	t.Parallel()

	if got := backoffDuration(100*time.Millisecond, 2); got != 400*time.Millisecond {
		t.Fatalf("unexpected backoff: %v", got)
	}
	if got := backoffDuration(time.Second, 10); got != 2*time.Second {
		t.Fatalf("expected cap at 2s, got %v", got)
	}
}
