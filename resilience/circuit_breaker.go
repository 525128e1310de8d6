package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/autoforge/acp/core"
)

// CircuitState is one of CLOSED, OPEN, HALF_OPEN.
type CircuitState string

const (
	StateClosed   CircuitState = "CLOSED"
	StateOpen     CircuitState = "OPEN"
	StateHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerOptions configures a named breaker.
type CircuitBreakerOptions struct {
	FailureThreshold int           // consecutive failures to trip CLOSED -> OPEN
	SuccessThreshold int           // consecutive HALF_OPEN successes to close
	OpenTimeout      time.Duration // time OPEN must elapse before a HALF_OPEN probe is allowed
}

// DefaultCircuitBreakerOptions mirrors core's shared resilience defaults.
func DefaultCircuitBreakerOptions() CircuitBreakerOptions {
	return CircuitBreakerOptions{
		FailureThreshold: core.DefaultBreakerFailureThreshold,
		SuccessThreshold: core.DefaultBreakerSuccessThreshold,
		OpenTimeout:      core.DefaultBreakerOpenTimeout,
	}
}

// CircuitBreaker gates execution for a single named dependency. State
// transitions: CLOSED -> OPEN on FailureThreshold consecutive failures;
// OPEN -> HALF_OPEN once OpenTimeout has elapsed, allowing exactly one
// concurrent probe; HALF_OPEN -> CLOSED on SuccessThreshold consecutive
// probe successes, or back to OPEN on any probe failure.
type CircuitBreaker struct {
	name string
	opts CircuitBreakerOptions

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
	probeInFlight   bool
}

func newCircuitBreaker(name string, opts CircuitBreakerOptions) *CircuitBreaker {
	return &CircuitBreaker{name: name, opts: opts, state: StateClosed}
}

// Name returns the breaker's registry key.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed right now, and if not, the
// remaining time until the next probe is eligible. Calling Allow when it
// returns true commits a HALF_OPEN probe slot; the caller must follow up
// with RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, 0
	case StateHalfOpen:
		if b.probeInFlight {
			return false, 0
		}
		b.probeInFlight = true
		return true, 0
	default: // StateOpen
		remaining := b.opts.OpenTimeout - time.Since(b.openedAt)
		if remaining <= 0 {
			b.state = StateHalfOpen
			b.probeInFlight = true
			b.consecutiveOK = 0
			return true, 0
		}
		return false, remaining
	}
}

// RecordSuccess registers a successful call against the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail = 0
	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.consecutiveOK++
		if b.consecutiveOK >= b.opts.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveOK = 0
		}
	case StateClosed:
		// no-op: already closed
	}
}

// RecordFailure registers a failed call against the breaker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.state = StateOpen
		b.openedAt = time.Now()
		b.consecutiveOK = 0
	case StateClosed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.opts.FailureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
			b.consecutiveFail = 0
		}
	}
}

// reset forces the breaker back to CLOSED with zeroed counters.
func (b *CircuitBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFail = 0
	b.consecutiveOK = 0
	b.probeInFlight = false
}

// registry is the process-wide named breaker store.
var registry = struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}{breakers: make(map[string]*CircuitBreaker)}

// GetCircuitBreaker returns the named breaker, creating it with opts on
// first use. Subsequent calls for the same name ignore opts and return the
// existing breaker.
func GetCircuitBreaker(name string, opts CircuitBreakerOptions) *CircuitBreaker {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if b, ok := registry.breakers[name]; ok {
		return b
	}
	b := newCircuitBreaker(name, opts)
	registry.breakers[name] = b
	return b
}

// ResetCircuitBreaker forces the named breaker to CLOSED, if it exists.
func ResetCircuitBreaker(name string) {
	registry.mu.Lock()
	b, ok := registry.breakers[name]
	registry.mu.Unlock()
	if ok {
		b.reset()
	}
}

// WithCircuitBreaker wraps op with the named breaker. It never runs op
// while the breaker denies execution; instead it returns a
// *core.CircuitOpenError carrying name and a retry-after hint.
func WithCircuitBreaker[T any](cb *CircuitBreaker, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		allowed, retryAfter := cb.Allow()
		if !allowed {
			return zero, &core.CircuitOpenError{Name: cb.name, RetryAfterMs: retryAfter.Milliseconds()}
		}
		result, err := op(ctx)
		if err != nil {
			cb.RecordFailure()
			return zero, err
		}
		cb.RecordSuccess()
		return result, nil
	}
}
