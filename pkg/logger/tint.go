package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/autoforge/acp/core"
)

// TintLogger adapts github.com/lmittmann/tint's colorized slog handler to
// core.Logger, for human-readable local runs of cmd/acpctl. It is never
// the default when acp is embedded as a library — SimpleLogger is.
type TintLogger struct {
	slogger   *slog.Logger
	component string
}

// NewTintLogger builds a TintLogger writing to stderr at the given level
// ("debug", "info", "warn", "error").
func NewTintLogger(level string) *TintLogger {
	var slogLevel slog.Level
	switch parseLevel(level) {
	case DebugLevel:
		slogLevel = slog.LevelDebug
	case WarnLevel:
		slogLevel = slog.LevelWarn
	case ErrorLevel:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slogLevel,
		TimeFormat: time.Kitchen,
	})
	return &TintLogger{slogger: slog.New(handler)}
}

func toAttrs(fields map[string]interface{}) []any {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}

func (l *TintLogger) Debug(msg string, fields map[string]interface{}) {
	l.slogger.Debug(msg, toAttrs(l.withComponent(fields))...)
}

func (l *TintLogger) Info(msg string, fields map[string]interface{}) {
	l.slogger.Info(msg, toAttrs(l.withComponent(fields))...)
}

func (l *TintLogger) Warn(msg string, fields map[string]interface{}) {
	l.slogger.Warn(msg, toAttrs(l.withComponent(fields))...)
}

func (l *TintLogger) Error(msg string, fields map[string]interface{}) {
	l.slogger.Error(msg, toAttrs(l.withComponent(fields))...)
}

func (l *TintLogger) DebugWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, fields)
}
func (l *TintLogger) InfoWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, fields)
}
func (l *TintLogger) WarnWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, fields)
}
func (l *TintLogger) ErrorWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, fields)
}

func (l *TintLogger) withComponent(fields map[string]interface{}) map[string]interface{} {
	if l.component == "" {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["component"] = l.component
	return merged
}

// WithComponent returns a logger scoped to component.
func (l *TintLogger) WithComponent(component string) core.Logger {
	return &TintLogger{slogger: l.slogger, component: component}
}
