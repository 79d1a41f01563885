// Package retry implements the exponential backoff policy used to retry
// apperrors.ErrCodeTransient failures across adapters and job handlers.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/target/soc-core/internal/apperrors"
)

// Policy describes an exponential backoff schedule with a cap on attempts and delay.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Factor multiplies BaseDelay after every attempt.
	Factor float64
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// MaxAttempts is the number of retries after the initial attempt.
	MaxAttempts int
}

// Default is the backoff policy shared by adapter calls and job handlers:
// base 1s, factor 2, capped at 30s, at most 3 retries.
var Default = Policy{
	BaseDelay:   time.Second,
	Factor:      2,
	MaxDelay:    30 * time.Second,
	MaxAttempts: 3,
}

// Delay returns the backoff delay before retry attempt n (1-indexed), with +/-20% jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
	}
	capped := float64(p.MaxDelay)
	if d > capped {
		d = capped
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(d * jitter)
}

// Do runs fn, retrying per the policy whenever fn returns a transient apperrors.AppError.
// Any other error, or context cancellation, aborts the retry loop immediately.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsTransient(lastErr) {
			return lastErr
		}
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return lastErr
		}
	}
	return lastErr
}
