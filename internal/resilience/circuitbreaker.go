// Package resilience provides the circuit breaker and backend failover used
// by the persistence layer.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] puts one breaker in front of each of several backends of the
// same type so a failing primary database is bypassed until it recovers.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successful probes close the breaker; any failed probe re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log records and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs
	// without the breaker's lock held.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now. Tests use it to step past the reset timeout.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker guards calls to one backend. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero config fields
// take their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// transition is a pending state change, reported once the lock is released.
type transition struct {
	from, to State
}

// Execute runs fn unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, changed, err := cb.admit()
	cb.report(changed)
	if err != nil {
		return err
	}
	err = fn()
	cb.report(cb.settle(probe, err))
	return err
}

// admit decides whether a call may proceed and whether it counts as a probe.
func (cb *CircuitBreaker) admit() (probe bool, changed []transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, ErrCircuitOpen
		}
		changed = cb.moveTo(StateHalfOpen, changed)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, changed, ErrCircuitOpen
		}
		cb.probes++
		return true, changed, nil
	}
	return false, changed, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) []transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && probe:
		return cb.trip(nil)
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			return cb.trip(nil)
		}
	case probe:
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.HalfOpenMax {
			return cb.moveTo(StateClosed, nil)
		}
	default:
		cb.failures = 0
	}
	return nil
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip(changed []transition) []transition {
	cb.openedAt = cb.cfg.Now()
	if cb.state == StateOpen {
		return changed
	}
	return cb.moveTo(StateOpen, changed)
}

// moveTo switches state and clears the counters the new state starts from.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) moveTo(to State, changed []transition) []transition {
	from := cb.state
	cb.state = to
	cb.probes, cb.successes = 0, 0
	if to == StateClosed {
		cb.failures = 0
	}
	return append(changed, transition{from, to})
}

func (cb *CircuitBreaker) report(changed []transition) {
	for _, t := range changed {
		log := slog.Info
		if t.to == StateOpen {
			log = slog.Warn
		}
		log("circuit breaker state change", "name", cb.cfg.Name, "from", t.from.String(), "to", t.to.String())
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changed []transition
	if cb.state != StateClosed {
		changed = cb.moveTo(StateClosed, nil)
	}
	cb.failures = 0
	cb.mu.Unlock()
	cb.report(changed)
}
