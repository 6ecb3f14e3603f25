package client

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds the retry and backoff configuration.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff upper bound before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff growth.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay computes the backoff before the retry following the given attempt
// (1-based). The exponential bound min(MaxDelay, BaseDelay*2^(attempt-1))
// is perturbed with full jitter: the result is uniform in [0, bound].
// When the upstream supplied a Retry-After hint larger than the jittered
// delay, the hint takes precedence.
func (c RetryConfig) Delay(attempt int, hint time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shifting past 30 would overflow; the cap applies long before that.
	if attempt > 30 {
		attempt = 30
	}

	bound := c.BaseDelay << uint(attempt-1)
	if bound <= 0 || bound > c.MaxDelay {
		bound = c.MaxDelay
	}

	delay := time.Duration(rand.Float64() * float64(bound))
	if hint > delay {
		return hint
	}
	return delay
}

// sleep waits for d, aborting promptly when ctx is cancelled or its
// deadline passes.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
