package resilience

import (
	"context"
	"time"

	"github.com/autoforge/acp/core"
)

// WithTimeout wraps op with a wall-clock deadline. If the deadline elapses
// before op returns, it returns a *core.TimeoutError and cancels the
// context passed to op so that a cooperative operation can abandon work.
func WithTimeout[T any](d time.Duration, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		childCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			val T
			err error
		}
		done := make(chan outcome, 1)
		start := time.Now()

		go func() {
			val, err := op(childCtx)
			done <- outcome{val, err}
		}()

		select {
		case o := <-done:
			return o.val, o.err
		case <-childCtx.Done():
			return zero, &core.TimeoutError{Op: "resilience.WithTimeout", DurationMs: time.Since(start).Milliseconds()}
		}
	}
}
