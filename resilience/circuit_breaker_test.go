package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := newCircuitBreaker("svc-a", CircuitBreakerOptions{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: 50 * time.Millisecond})

	allowed, _ := cb.Allow()
	require.True(t, allowed)
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	allowed, _ = cb.Allow()
	require.True(t, allowed)
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	allowed, retryAfter := cb.Allow()
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestCircuitBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	cb := newCircuitBreaker("svc-b", CircuitBreakerOptions{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 10 * time.Millisecond})

	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	allowed, _ := cb.Allow()
	require.True(t, allowed)
	assert.Equal(t, StateHalfOpen, cb.State())

	allowed, _ = cb.Allow()
	assert.False(t, allowed, "only one concurrent probe permitted")
}

func TestCircuitBreakerClosesAfterSuccessThreshold(t *testing.T) {
	cb := newCircuitBreaker("svc-c", CircuitBreakerOptions{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 5 * time.Millisecond})

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)

	cb.Allow()
	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Allow()
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestGetCircuitBreakerIsProcessWideRegistry(t *testing.T) {
	a := GetCircuitBreaker("shared", DefaultCircuitBreakerOptions())
	b := GetCircuitBreaker("shared", CircuitBreakerOptions{FailureThreshold: 99})
	assert.Same(t, a, b)
}

func TestResetCircuitBreakerForcesClosed(t *testing.T) {
	GetCircuitBreaker("resettable", CircuitBreakerOptions{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	cb := GetCircuitBreaker("resettable", CircuitBreakerOptions{})
	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	ResetCircuitBreaker("resettable")
	assert.Equal(t, StateClosed, cb.State())
}
