package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy bounds retries of idempotent remote calls.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy makes three attempts, 100ms then 200ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}
}

// Backoff returns BaseDelay * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return p.BaseDelay
	}
	// 2^30 base delays is far past any sane cap
	if attempt > 30 {
		return p.MaxDelay
	}
	delay := p.BaseDelay * time.Duration(1<<attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func retryable(err error) bool {
	return !errors.Is(err, ErrItemNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// retry runs fn until it succeeds, fails with a permanent error, or the
// policy's attempts are used up.
func retry(ctx context.Context, policy RetryPolicy, op string, fn func() error) error {
	attempts := max(policy.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := policy.Backoff(attempt)
		slog.Warn("Retrying remote storage call", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
