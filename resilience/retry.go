// Package resilience implements the four resilience primitives (Retry,
// CircuitBreaker, Fallback, Timeout) and the withRecovery composite that
// wraps them around an arbitrary operation.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/autoforge/acp/core"
)

// BackoffStrategy selects how the delay between attempts grows.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPredicate decides whether a given error should trigger another
// attempt. A nil predicate retries every error.
type RetryPredicate func(err error) bool

// OnRetryObserver is called after a failed attempt but before the sleep
// that precedes the next one. It is never called after the final attempt.
type OnRetryObserver func(attempt int, err error, delay time.Duration)

// RetryOptions configures Retry.
type RetryOptions struct {
	MaxAttempts  int // >= 1
	InitialDelay time.Duration
	Backoff      BackoffStrategy
	Multiplier   float64 // default 2, used by BackoffExponential
	MaxDelay     time.Duration
	Jitter       float64 // fraction in [0,1]
	Predicate    RetryPredicate
	OnRetry      OnRetryObserver
}

// DefaultRetryOptions returns sensible defaults: 3 attempts, exponential
// backoff starting at 200ms, capped at 10s, no jitter, retry everything.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  core.DefaultRetryMaxAttempts,
		InitialDelay: 200 * time.Millisecond,
		Backoff:      BackoffExponential,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}
}

func (o RetryOptions) delayFor(attempt int) time.Duration {
	multiplier := o.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	var d time.Duration
	switch o.Backoff {
	case BackoffLinear:
		d = o.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		d = time.Duration(float64(o.InitialDelay) * pow(multiplier, attempt-1))
	default: // BackoffFixed and zero-value
		d = o.InitialDelay
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		d = o.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	if o.Jitter > 0 {
		j := o.Jitter
		if j > 1 {
			j = 1
		}
		// Uniform in [-j, +j] of the computed delay.
		factor := 1 + (rand.Float64()*2-1)*j
		d = time.Duration(float64(d) * factor)
		if d < 0 {
			d = 0
		}
	}
	return d
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Operation is the shape every resilience primitive wraps: a context-aware
// unit of work producing a value of type T.
type Operation[T any] func(ctx context.Context) (T, error)

// Retry runs op up to opts.MaxAttempts times, sleeping between attempts
// according to opts.Backoff. On exhaustion it returns a
// *core.RetryExhaustedError wrapping the last error observed.
func Retry[T any](ctx context.Context, opts RetryOptions, op Operation[T]) (T, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	predicate := opts.Predicate
	if predicate == nil {
		predicate = func(error) bool { return true }
	}

	var zero T
	var lastErr error
	attempt := 1
	for ; attempt <= opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == opts.MaxAttempts || !predicate(err) {
			break
		}

		delay := opts.delayFor(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, &core.RetryExhaustedError{Attempts: attempt, LastErr: lastErr}
}
