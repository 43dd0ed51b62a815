package resilience

import (
	"sync"
	"time"
)

// CircuitBreaker trips a command type after repeated faults so a macro that
// reliably crashes the interpreter stops being retried against the live
// model.
type CircuitBreaker interface {
	// Allow reports whether a command of the given type may run.
	Allow(command string) bool

	// RecordSuccess records a successful command.
	RecordSuccess(command string)

	// RecordFailure records a failed command.
	RecordFailure(command string)

	// State returns the current state for a command type.
	State(command string) CircuitState

	// Reset closes the circuit for a command type.
	Reset(command string)
}

// CircuitState is the breaker state.
type CircuitState int

const (
	// StateClosed allows commands through.
	StateClosed CircuitState = iota
	// StateOpen rejects all commands.
	StateOpen
	// StateHalfOpen admits probes to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s CircuitState) String() string {
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

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of successes to close from half-open.
	SuccessThreshold int

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// PerCommand keys breakers by command type.
	PerCommand bool

	// OnStateChange is called on transitions.
	OnStateChange func(command string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		PerCommand:       true,
	}
}

type circuitBreaker struct {
	config   CircuitBreakerConfig
	global   *breaker
	breakers map[string]*breaker
	mu       sync.RWMutex
}

type breaker struct {
	command     string
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	config      *CircuitBreakerConfig
	mu          sync.Mutex
}

// NewCircuitBreaker creates a circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) CircuitBreaker {
	return &circuitBreaker{
		config:   config,
		global:   &breaker{config: &config},
		breakers: make(map[string]*breaker),
	}
}

// Allow implements CircuitBreaker.Allow.
func (cb *circuitBreaker) Allow(command string) bool {
	return cb.pick(command).allow()
}

// RecordSuccess implements CircuitBreaker.RecordSuccess.
func (cb *circuitBreaker) RecordSuccess(command string) {
	cb.pick(command).recordSuccess()
}

// RecordFailure implements CircuitBreaker.RecordFailure.
func (cb *circuitBreaker) RecordFailure(command string) {
	cb.pick(command).recordFailure()
}

// State implements CircuitBreaker.State.
func (cb *circuitBreaker) State(command string) CircuitState {
	return cb.pick(command).getState()
}

// Reset implements CircuitBreaker.Reset.
func (cb *circuitBreaker) Reset(command string) {
	cb.pick(command).reset()
}

func (cb *circuitBreaker) pick(command string) *breaker {
	if !cb.config.PerCommand {
		return cb.global
	}

	cb.mu.RLock()
	b, ok := cb.breakers[command]
	cb.mu.RUnlock()
	if ok {
		return b
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Double-check
	if existing, ok := cb.breakers[command]; ok {
		return existing
	}
	b = &breaker{command: command, config: &cb.config}
	cb.breakers[command] = b
	return b
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) > b.config.Timeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *breaker) getState() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) > b.config.Timeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// transition moves to a new state, resetting counters. Callers hold b.mu.
func (b *breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	b.successes = 0
	if to != StateOpen {
		b.failures = 0
	}
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.command, from, to)
	}
}
