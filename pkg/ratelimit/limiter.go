// Package ratelimit implements token-bucket admission control for outbound
// Semantic Scholar API requests. Tokens accumulate continuously up to a
// burst capacity and are replenished lazily on each acquisition attempt;
// no background timers are used.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limiter operations.
var (
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "s2_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limiter token",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	rateLimitTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "s2_rate_limit_timeouts_total",
		Help: "Total number of acquisitions abandoned because the deadline could not cover the wait",
	})
)

// ErrWouldExceedDeadline is returned when waiting for the next token would
// run past the caller's context deadline. The request never reached the
// network, so this must not count as an upstream failure.
var ErrWouldExceedDeadline = errors.New("rate limiter wait would exceed deadline")

// Limiter is a token bucket. One token is consumed per request; tokens
// refill at a sustained rate up to a burst capacity.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// New creates a limiter allowing requestsPerSecond sustained throughput
// with bursts up to burst requests. The bucket starts full.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		panic("ratelimit: requestsPerSecond must be positive")
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens:     float64(burst),
		burst:      float64(burst),
		rate:       requestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available, the context is cancelled, or
// the wait would exceed the context deadline. It returns the total time
// spent waiting. On failure the returned error is either the context error
// or ErrWouldExceedDeadline.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	for {
		wait, ok := l.tryConsume()
		if ok {
			waited := time.Since(start)
			rateLimitWaitSeconds.Observe(waited.Seconds())
			return waited, nil
		}

		if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
			if time.Now().Add(wait).After(deadline) {
				rateLimitTimeoutsTotal.Inc()
				return time.Since(start), ErrWouldExceedDeadline
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), ctx.Err()
		case <-timer.C:
			// Re-attempt; another waiter may have taken the token.
		}
	}
}

// tryConsume refills the bucket for elapsed time and consumes one token if
// available. When empty it returns the wait until the next token accrues.
func (l *Limiter) tryConsume() (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())

	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}

	deficit := 1 - l.tokens
	return time.Duration(deficit / l.rate * float64(time.Second)), false
}

// Tokens returns the number of currently available tokens after applying
// any pending refill. Intended for health reporting and tests.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())
	return l.tokens
}

// refillLocked adds tokens for time elapsed since the last refill, capped
// at burst capacity. Callers must hold l.mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}

	l.tokens += elapsed.Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}
