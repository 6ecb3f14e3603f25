// Package breaker implements a three-state circuit breaker guarding the
// Semantic Scholar upstream. The breaker fails fast while the upstream is
// unhealthy and probes recovery with a bounded number of trial requests.
package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for circuit breaker state.
var (
	circuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "s2_circuit_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	circuitTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2_circuit_transitions_total",
		Help: "Total circuit breaker state transitions by target state",
	}, []string{"to"})

	circuitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "s2_circuit_rejections_total",
		Help: "Total calls rejected while the circuit was open",
	})
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed passes all calls through (normal operation).
	StateClosed State = iota

	// StateOpen fails all calls fast without touching the upstream.
	StateOpen

	// StateHalfOpen admits a bounded number of trial calls to probe recovery.
	StateHalfOpen
)

// String returns the state name for logs and health reports.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures in CLOSED
	// state that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays OPEN before admitting
	// trial calls.
	RecoveryTimeout time.Duration

	// HalfOpenMaxTrials is the number of trial calls admitted in HALF_OPEN;
	// the same number of consecutive successes closes the circuit.
	HalfOpenMaxTrials int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxTrials: 2,
	}
}

// Breaker is a circuit breaker guarding exactly one upstream dependency.
// All state transitions happen under a single mutex.
type Breaker struct {
	mu                  sync.Mutex
	cfg                 Config
	state               State
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenTrials      int
	halfOpenSuccesses   int
}

// New creates a circuit breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.HalfOpenMaxTrials <= 0 {
		cfg.HalfOpenMaxTrials = DefaultConfig().HalfOpenMaxTrials
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed. In OPEN state it transitions to
// HALF_OPEN once the recovery timeout has elapsed; in HALF_OPEN it admits up
// to HalfOpenMaxTrials calls.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.transitionLocked(StateHalfOpen)
			b.halfOpenTrials = 1
			return true
		}
		circuitRejectionsTotal.Inc()
		return false

	case StateHalfOpen:
		if b.halfOpenTrials < b.cfg.HalfOpenMaxTrials {
			b.halfOpenTrials++
			return true
		}
		circuitRejectionsTotal.Inc()
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful upstream call. In CLOSED state it
// resets the consecutive failure count; in HALF_OPEN it closes the circuit
// once enough trial calls have succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxTrials {
			b.transitionLocked(StateClosed)
		}
	}
}

// RecordNeutral records a call whose outcome carries no signal about
// upstream health, such as a validation rejection or a rate limit response.
// In HALF_OPEN it releases the trial slot the call occupied so later calls
// can keep probing recovery; otherwise it is a no-op.
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenTrials > b.halfOpenSuccesses {
		b.halfOpenTrials--
	}
}

// RecordFailure records a service-health failure. In CLOSED state it opens
// the circuit once the failure threshold is reached; in HALF_OPEN any single
// failure re-opens the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.lastFailure = time.Now()
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.lastFailure = time.Now()
		b.transitionLocked(StateOpen)
	case StateOpen:
		// Stragglers from calls admitted before the transition; the
		// circuit is already open.
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to CLOSED with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
}

// transitionLocked moves to a new state and resets the counters that are
// only valid in the old one. Callers must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	b.state = to
	circuitState.Set(float64(to))
	circuitTransitionsTotal.WithLabelValues(to.String()).Inc()

	switch to {
	case StateClosed:
		b.consecutiveFailures = 0
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	case StateHalfOpen:
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	}
}
