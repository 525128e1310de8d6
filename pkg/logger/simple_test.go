package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleLoggerRespectsLevel(t *testing.T) {
	l := NewSimpleLogger("warn")
	assert.NotPanics(t, func() {
		l.Debug("suppressed", nil)
		l.Info("suppressed", nil)
		l.Warn("visible", map[string]interface{}{"k": "v"})
		l.Error("visible", nil)
	})
}

func TestWithComponentScopesSubsequentLines(t *testing.T) {
	l := NewSimpleLogger("info")
	scoped := l.WithComponent("bus")
	assert.NotPanics(t, func() {
		scoped.Info("message bus ready", nil)
	})
}

func TestWithContextMergesTraceID(t *testing.T) {
	l := NewSimpleLogger("info")
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.NotPanics(t, func() {
		l.InfoWithContext(ctx, "handled", map[string]interface{}{"op": "routeTask"})
	})
}
