package resilience

import "context"

// ShouldFallback filters which primary failures trigger the fallback. A
// nil filter falls back on every error.
type ShouldFallback func(err error) bool

// OnFallbackObserver fires immediately before the fallback operation runs.
type OnFallbackObserver func(err error)

// FallbackOptions configures WithFallback.
type FallbackOptions struct {
	ShouldFallback ShouldFallback
	OnFallback     OnFallbackObserver
}

// WithFallback runs primary; on failure (filtered by opts.ShouldFallback,
// default: always), it runs fallback and returns that result unchanged —
// including a fallback failure, which propagates as-is.
func WithFallback[T any](opts FallbackOptions, primary, fallback Operation[T]) Operation[T] {
	filter := opts.ShouldFallback
	if filter == nil {
		filter = func(error) bool { return true }
	}
	return func(ctx context.Context) (T, error) {
		result, err := primary(ctx)
		if err == nil {
			return result, nil
		}
		if !filter(err) {
			return result, err
		}
		if opts.OnFallback != nil {
			opts.OnFallback(err)
		}
		return fallback(ctx)
	}
}
