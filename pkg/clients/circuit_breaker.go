package clients

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/cmerrors"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all calls to pass through
	StateClosed CircuitState = iota
	// StateOpen fails every call fast without attempting I/O
	StateOpen
	// StateHalfOpen allows exactly one probe call to test recovery
	StateHalfOpen
)

// String returns the lowercase state name
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

// CircuitBreakerConfig is the configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a probe
	Cooldown time.Duration
}

// CircuitBreaker isolates a failing target system. State is shared per
// system and updated atomically across concurrent callers.
//
// CLOSED -> OPEN after FailureThreshold consecutive failures.
// OPEN -> HALF_OPEN after Cooldown; exactly one probe is admitted.
// HALF_OPEN -> CLOSED on probe success, back to OPEN on probe failure.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger

	state           int32
	lastStateChange time.Time
	nextProbeTime   time.Time

	consecutiveFailures int32
	probeInFlight       int32

	mu sync.RWMutex
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker")),
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under breaker protection. While open it returns a typed
// circuit_open error without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return cmerrors.New(cmerrors.ErrorTypeCircuitOpen, "circuit breaker is open")
	}

	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Allow reports whether a call may proceed, admitting the half-open probe
// when the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return true

	case StateOpen:
		cb.mu.RLock()
		cooled := time.Now().After(cb.nextProbeTime)
		cb.mu.RUnlock()

		if cooled {
			cb.transitionToHalfOpen()
			return cb.claimProbe()
		}
		return false

	case StateHalfOpen:
		return cb.claimProbe()

	default:
		return false
	}
}

// RecordSuccess records a successful call. The half-open probe succeeding
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
	case StateHalfOpen:
		cb.transitionToClosed()
	}
}

// RecordFailure records a failed call. In the closed state enough
// consecutive failures open the circuit; in half-open any failure reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}
	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt32(&cb.state))
}

// claimProbe admits at most one call while half-open
func (cb *CircuitBreaker) claimProbe() bool {
	return atomic.CompareAndSwapInt32(&cb.probeInFlight, 0, 1)
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) {
		if !atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen)) {
			return
		}
	}

	cb.lastStateChange = time.Now()
	cb.nextProbeTime = time.Now().Add(cb.config.Cooldown)
	atomic.StoreInt32(&cb.probeInFlight, 0)

	cb.logger.Warn("circuit breaker opened",
		zap.Time("next_probe", cb.nextProbeTime),
		zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.probeInFlight, 0)

		cb.logger.Info("circuit breaker half-open")
	}
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.probeInFlight, 0)

		cb.logger.Info("circuit breaker closed")
	}
}
