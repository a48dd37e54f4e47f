// Package resilience implements the CircuitBreaker component (spec §4.3):
// per-agent failure accounting and state machine protecting the
// Orchestrator from repeatedly dispatching to a failing agent.
package resilience

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ravenoak/autoresearch/core"
)

// CircuitState is one of the three states spec §3's CircuitBreakerState
// names.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// Config configures one CircuitBreaker instance. Threshold and Cooldown
// come directly from RuntimeConfig.circuit_breaker_threshold /
// circuit_breaker_cooldown_ms (spec §6).
type Config struct {
	Name      string
	Threshold float64
	Cooldown  time.Duration
	Logger    core.Logger
	Clock     core.Clock
	Metrics   MetricsSink
}

// MetricsSink receives state-change notifications; *telemetry.Metrics
// satisfies it directly, and the orchestration package passes it in as is.
type MetricsSink interface {
	Counter(name string, labels ...string)
}

// CircuitBreaker implements spec §4.3's exact state machine: transitions
// are a pure function of the ordered event stream (Success, Failure(kind),
// Tick) plus a monotonic clock (P4). failure_count is a float so partial
// (transient) failures count for less than full (critical/recoverable)
// ones.
//
// Structurally this keeps the teacher's atomic-state-plus-mutex-guarded-
// transition shape and its "state changed" structured log line
// (_examples/itsneelabh-gomind/resilience/circuit_breaker.go), but the
// transition semantics are rewritten to match spec §4.3 rather than the
// teacher's sliding-window error-rate model.
type CircuitBreaker struct {
	name      string
	threshold float64
	cooldown  time.Duration
	logger    core.Logger
	clock     core.Clock
	metrics   MetricsSink

	mu           sync.Mutex
	state        CircuitState
	failureCount float64
	openedAt     time.Time

	// atomicState lets State() read lock-free; mu is only needed to
	// mutate failureCount/openedAt/state together.
	atomicState atomic.Int32
}

// New builds a CircuitBreaker starting in StateClosed. A zero Clock
// defaults to core.RealClock{}.
func New(cfg Config) *CircuitBreaker {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5.0
	}
	cb := &CircuitBreaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		state:     StateClosed,
	}
	cb.atomicState.Store(int32(StateClosed))
	return cb
}

// Success applies a Success event: half_open -> closed (reset
// failure_count to 0); closed -> decay failure_count by 0.1, floored at 0
// (spec §4.3).
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.failureCount = 0
		cb.transitionLocked(StateClosed)
	case StateClosed:
		cb.failureCount -= 0.1
		if cb.failureCount < 0 {
			cb.failureCount = 0
		}
	}
}

// Failure applies a Failure(kind) event: increments failure_count by the
// kind-specific weight (critical/recoverable: 1.0, transient: 0.5) and
// opens the breaker if the threshold is reached while closed (spec §4.3).
// The CircuitBreaker consumes every Failure event regardless of whether
// the Orchestrator itself retries (spec §7 propagation policy).
func (cb *CircuitBreaker) Failure(kind core.Kind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount += failureWeight(kind)

	if cb.state == StateClosed && cb.failureCount >= cb.threshold {
		cb.openedAt = cb.clock.Now()
		cb.transitionLocked(StateOpen)
	}
}

func failureWeight(kind core.Kind) float64 {
	switch kind {
	case core.KindTransient:
		return 0.5
	default:
		// Recoverable, Critical, Cancelled, Timeout (already reclassified
		// to Recoverable by the caller when within retry budget) all count
		// as a full failure unit per spec §4.3.
		return 1.0
	}
}

// Tick applies a Tick event at time now: open -> half_open once the
// cooldown has elapsed since opened_at (spec §4.3). The Orchestrator calls
// Tick once per loop boundary (or the caller's own polling cadence); it is
// not driven by a background goroutine, keeping transitions a pure
// function of an externally-supplied event stream (P4).
func (cb *CircuitBreaker) Tick(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.cooldown {
		cb.transitionLocked(StateHalfOpen)
	}
}

// transitionLocked changes state; caller must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(newState CircuitState) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState
	cb.atomicState.Store(int32(newState))

	cb.logger.Info("circuit breaker state changed", map[string]interface{}{
		"name":          cb.name,
		"from":          oldState.String(),
		"to":            newState.String(),
		"failure_count": cb.failureCount,
	})
	if cb.metrics != nil {
		cb.metrics.Counter("autoresearch.circuit_breaker.state_change",
			"name", cb.name, "from", oldState.String(), "to", newState.String())
	}
}

// State returns the current state without blocking on cb.mu (atomic read),
// matching the teacher's lock-free GetState() pattern.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.atomicState.Load())
}

// IsOpen reports whether the breaker currently blocks dispatch. The
// Orchestrator uses this at step 5 of RunQuery to skip a critical agent
// whose breaker is open (spec §4.1 step 5).
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// FailureCount returns the current failure_count, mainly for tests
// asserting P4 (breaker determinism) against a literal event trace.
func (cb *CircuitBreaker) FailureCount() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Name returns the agent name this breaker tracks.
func (cb *CircuitBreaker) Name() string { return cb.name }

// String renders a concise debug summary.
func (cb *CircuitBreaker) String() string {
	return fmt.Sprintf("CircuitBreaker{name=%s, state=%s, failure_count=%.2f}", cb.name, cb.State(), cb.FailureCount())
}
