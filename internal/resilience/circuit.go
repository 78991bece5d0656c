// Package resilience classifies failures and provides retry and circuit
// breaker wrappers for calls to the correspondent service and the store.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the position of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen lets a bounded number of probes through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen rejects a call without making it. It is a transport
// failure, so a rejected point is retried on a later pass rather than
// recorded as having no data.
var ErrCircuitOpen = E(KindTransport, "circuit breaker", errors.New("circuit is open"))

// CircuitConfig tunes a CircuitBreaker. Zero fields take the defaults of
// DefaultCircuitConfig.
type CircuitConfig struct {
	// Threshold is the run of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration
	// Probes is both the number of concurrent half-open calls allowed and
	// the successes needed to close again.
	Probes int
	// ShouldTrip selects the errors that count as failures. Nil means
	// IsTransport: a correspondent with no data is a healthy reply.
	ShouldTrip func(err error) bool
	// OnStateChange runs on every transition with the state after it.
	OnStateChange func(from CircuitState, stats CircuitStats)
}

// DefaultCircuitConfig opens after 5 failures and probes after 30s.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// CircuitConfigFrom builds a config from the integer settings in
// config.yaml. Non-positive values keep the defaults.
func CircuitConfigFrom(threshold, cooldownSecs int) CircuitConfig {
	cfg := DefaultCircuitConfig()
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}

// CircuitStats is a point-in-time view of a breaker.
type CircuitStats struct {
	State CircuitState
	// Failures is the current run of consecutive failures.
	Failures int
	// Rejected counts calls refused since the breaker was created.
	Rejected int
	// OpenedAt is when the circuit last opened.
	OpenedAt time.Time
}

// CircuitBreaker guards the correspondent service. It is safe for
// concurrent use.
type CircuitBreaker struct {
	cfg CircuitConfig
	now func() time.Time

	mu        sync.Mutex
	stats     CircuitStats
	probing   int
	successes int
}

func NewCircuitBreaker(cfg CircuitConfig) *CircuitBreaker {
	def := DefaultCircuitConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransport
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit rejects the call with ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for functions returning a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	probe, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(probe, err)
	return val, err
}

// State reports the current state. An open circuit whose cooldown has
// elapsed reads as half-open.
func (cb *CircuitBreaker) State() CircuitState {
	return cb.Stats().State
}

func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	if s.State == CircuitOpen && cb.cooledDown() {
		s.State = CircuitHalfOpen
	}
	return s
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.now().Sub(cb.stats.OpenedAt) >= cb.cfg.Cooldown
}

// admit decides whether a call may run and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.stats.State == CircuitOpen && cb.cooledDown() {
		cb.moveTo(CircuitHalfOpen)
	}
	switch cb.stats.State {
	case CircuitClosed:
		return false, nil
	case CircuitHalfOpen:
		if cb.probing < cb.cfg.Probes {
			cb.probing++
			return true, nil
		}
	}
	cb.stats.Rejected++
	return false, ErrCircuitOpen
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing--
	}
	failed := err != nil && cb.cfg.ShouldTrip(err)

	switch cb.stats.State {
	case CircuitClosed:
		if !failed {
			cb.stats.Failures = 0
			return
		}
		cb.stats.Failures++
		if cb.stats.Failures >= cb.cfg.Threshold {
			cb.open()
		}
	case CircuitHalfOpen:
		if failed {
			cb.stats.Failures++
			cb.open()
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.Probes {
			cb.stats.Failures = 0
			cb.successes = 0
			cb.moveTo(CircuitClosed)
		}
	case CircuitOpen:
		// A call admitted before the circuit opened finished late.
		if failed {
			cb.stats.Failures++
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.stats.OpenedAt = cb.now()
	cb.successes = 0
	cb.moveTo(CircuitOpen)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.stats.State
	cb.stats.State = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, cb.stats)
	}
}
