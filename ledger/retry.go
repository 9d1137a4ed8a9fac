package ledger

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a conflicting unit of work is replayed.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// OnRetry is called before each replay, after the delay is chosen.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns the bound used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2,
	}
}

// RunWithRetry executes fn, replaying it while it fails with ErrConflict.
// Any other error is returned immediately. When the budget is exhausted the
// last conflict is wrapped in a *ConflictError.
func RunWithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		// Don't sleep after last attempt
		if attempt == attempts {
			break
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if policy.BackoffFactor > 1 {
			delay = time.Duration(float64(delay) * policy.BackoffFactor)
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return &ConflictError{Attempts: attempts, Last: lastErr}
}
