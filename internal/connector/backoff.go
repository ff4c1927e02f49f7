package connector

import (
	"context"
	"time"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 30 * time.Second

	// DefaultRetryAttempts bounds transient-error retries before the
	// failure escalates to the caller.
	DefaultRetryAttempts = 5
)

// Backoff returns the exponential delay for a zero-based attempt
// count, capped at backoffMax.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return backoffBase
	}
	if attempt > 20 {
		return backoffMax
	}
	d := backoffBase * time.Duration(1<<uint(attempt))
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// Retry runs fn up to attempts times, sleeping with exponential
// backoff between transient failures. Non-transient errors and
// context cancellation return immediately.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
