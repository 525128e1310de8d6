package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autoforge/acp/core"
)

func TestWithFallbackUsesFallbackOnFailure(t *testing.T) {
	var observedErr error
	primary := func(ctx context.Context) (string, error) { return "", errors.New("primary down") }
	fallback := func(ctx context.Context) (string, error) { return "cached", nil }

	op := WithFallback(FallbackOptions{
		OnFallback: func(err error) { observedErr = err },
	}, primary, fallback)

	result, err := op(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "cached", result)
	assert.Error(t, observedErr)
}

func TestWithTimeoutReturnsTimeoutError(t *testing.T) {
	slow := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	op := WithTimeout(10*time.Millisecond, slow)

	_, err := op(context.Background())
	assert.Error(t, err)

	from := func() error { return err }
	assert.True(t, isTimeout(from()))
}

func isTimeout(err error) bool {
	var timeoutErr *core.TimeoutError
	return errors.As(err, &timeoutErr)
}

func TestWithRecoveryNeverReturnsGoError(t *testing.T) {
	always := func(ctx context.Context) (string, error) { return "", errors.New("boom") }

	specs := []StrategySpec[string]{
		{Kind: StrategyRetry, Retry: RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, Backoff: BackoffFixed}},
	}

	result := WithRecovery(context.Background(), always, specs)
	assert.False(t, result.Success)
	assert.Error(t, result.Error)
	assert.Equal(t, 2, result.Attempts)
}

func TestWithRecoveryComposesRetryInsideFallback(t *testing.T) {
	attempts := 0
	primary := func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("always fails")
	}
	fallbackOp := func(ctx context.Context) (string, error) { return "fallback-value", nil }

	specs := []StrategySpec[string]{
		{Kind: StrategyFallback, FallbackOp: fallbackOp},
		{Kind: StrategyRetry, Retry: RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, Backoff: BackoffFixed}},
	}

	result := WithRecovery(context.Background(), primary, specs)
	assert.True(t, result.Success)
	assert.Equal(t, "fallback-value", result.Data)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, 2, attempts, "retry (inner) should exhaust before fallback (outer) engages")
}
