package resilience

import (
	"context"
	"time"
)

// StrategyKind selects which primitive a StrategySpec applies.
type StrategyKind string

const (
	StrategyTimeout        StrategyKind = "timeout"
	StrategyRetry          StrategyKind = "retry"
	StrategyCircuitBreaker StrategyKind = "circuitBreaker"
	StrategyFallback       StrategyKind = "fallback"
)

// StrategySpec describes one layer of a withRecovery composition. Only the
// fields relevant to Kind need be set.
type StrategySpec[T any] struct {
	Kind StrategyKind

	Timeout time.Duration

	Retry RetryOptions

	Breaker *CircuitBreaker

	FallbackOp   Operation[T]
	FallbackOpts FallbackOptions
}

// Result is the never-throwing envelope withRecovery resolves to.
type Result[T any] struct {
	Success      bool
	Data         T
	Error        error
	UsedFallback bool
	Attempts     int
	DurationMs   int64
}

// WithRecovery composes specs right-to-left around op — the last spec in
// the slice wraps op directly (innermost), each preceding spec wraps the
// result of the one after it, and the first spec is outermost — then runs
// the composition and returns a result envelope that never panics or
// returns a Go error.
func WithRecovery[T any](ctx context.Context, op Operation[T], specs []StrategySpec[T]) Result[T] {
	attempts := 0
	usedFallback := false

	wrapped := op
	for i := len(specs) - 1; i >= 0; i-- {
		wrapped = applyStrategy(specs[i], wrapped, &attempts, &usedFallback)
	}

	start := time.Now()
	data, err := wrapped(ctx)
	elapsed := time.Since(start).Milliseconds()

	if attempts == 0 {
		attempts = 1
	}

	if err != nil {
		return Result[T]{Success: false, Error: err, UsedFallback: usedFallback, Attempts: attempts, DurationMs: elapsed}
	}
	return Result[T]{Success: true, Data: data, UsedFallback: usedFallback, Attempts: attempts, DurationMs: elapsed}
}

func applyStrategy[T any](spec StrategySpec[T], inner Operation[T], attempts *int, usedFallback *bool) Operation[T] {
	switch spec.Kind {
	case StrategyTimeout:
		return WithTimeout(spec.Timeout, inner)
	case StrategyCircuitBreaker:
		return WithCircuitBreaker(spec.Breaker, inner)
	case StrategyRetry:
		counting := func(ctx context.Context) (T, error) {
			*attempts++
			return inner(ctx)
		}
		return func(ctx context.Context) (T, error) {
			*attempts = 0
			return Retry(ctx, spec.Retry, counting)
		}
	case StrategyFallback:
		return func(ctx context.Context) (T, error) {
			result, err := inner(ctx)
			if err == nil {
				return result, nil
			}
			filter := spec.FallbackOpts.ShouldFallback
			if filter == nil {
				filter = func(error) bool { return true }
			}
			if !filter(err) {
				return result, err
			}
			if spec.FallbackOpts.OnFallback != nil {
				spec.FallbackOpts.OnFallback(err)
			}
			*usedFallback = true
			return spec.FallbackOp(ctx)
		}
	default:
		return inner
	}
}
