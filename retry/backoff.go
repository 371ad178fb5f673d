// Package retry provides the exponential backoff used to reconnect push
// transports after a failure.
package retry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Strategy defines exponential backoff between attempts.
//
// The schedule follows: delay = min(BaseDelay * ExponentialBase^attempt, MaxDelay)
//
// Example with defaults (500ms base, 2.0 exponential, 30s max):
//
//	Attempt 1: 1s
//	Attempt 2: 2s
//	Attempt 3: 4s
//	...
//	Attempt 6: 30s (capped)
type Strategy struct {
	MaxAttempts     int           // Attempts allowed before giving up, 0 for no limit
	BaseDelay       time.Duration // Delay before the first retry
	MaxDelay        time.Duration // Delay cap
	ExponentialBase float64       // Backoff multiplier (e.g., 2.0 for doubling)
}

// DefaultStrategy returns the reconnect strategy used by push transports:
// unlimited attempts, 500ms growing to 30s.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     0,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Validate checks that the strategy describes a usable schedule.
func (s Strategy) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxAttempts, validation.Min(0)),
		validation.Field(&s.BaseDelay, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.MaxDelay, validation.Required, validation.Min(s.BaseDelay)),
		validation.Field(&s.ExponentialBase, validation.Required, validation.Min(1.0)),
	)
}

// Delay returns the delay before the given attempt.
// Attempts below 1 get BaseDelay.
func (s Strategy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// IsRetryable reports whether another attempt is allowed after attempt
// attempts have failed.
func (s Strategy) IsRetryable(attempt int) bool {
	return s.MaxAttempts == 0 || attempt < s.MaxAttempts
}

// Wait sleeps for Delay(attempt) or until ctx is done, returning ctx.Err()
// in the latter case.
func (s Strategy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Schedule returns a human-readable description of the first n delays.
//
// Example output:
//
//	Retry Schedule:
//	  Attempt 1: after 1s
//	  Attempt 2: after 2s
func (s Strategy) Schedule(n int) string {
	var b strings.Builder
	b.WriteString("Retry Schedule:\n")
	for i := 1; i <= n; i++ {
		if !s.IsRetryable(i - 1) {
			b.WriteString("  → Give up\n")
			break
		}
		fmt.Fprintf(&b, "  Attempt %d: after %v\n", i, s.Delay(i))
	}
	return b.String()
}
