package store

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a transient store failure is retried.
// MaxRetries counts retries after the first attempt; the delay doubles per
// attempt starting at Backoff and is capped at two seconds.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func backoffDuration(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	d := base << attempt
	if d <= 0 || d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// Retry runs op until it succeeds, fails with a non-transient error, the
// retry budget is spent, or ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = op(ctx)
		if err == nil || !IsTransient(err) || attempt >= policy.MaxRetries {
			return err
		}

		timer := time.NewTimer(backoffDuration(policy.Backoff, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
