// Package logger provides the default core.Logger implementations: a
// dependency-free structured console logger, and an optional colorized
// sink for interactive CLI use.
package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/autoforge/acp/core"
)

// LogLevel orders the four severities SimpleLogger understands.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func parseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// SimpleLogger is a dependency-free structured logger writing
// "[LEVEL] component=... msg key=value ..." lines via the standard log
// package. It satisfies core.ComponentAwareLogger.
type SimpleLogger struct {
	level     LogLevel
	component string
	fields    map[string]interface{}
}

// NewSimpleLogger creates a SimpleLogger at the given level ("debug",
// "info", "warn", "error"); an unrecognized level defaults to info.
func NewSimpleLogger(level string) *SimpleLogger {
	return &SimpleLogger{level: parseLevel(level), fields: make(map[string]interface{})}
}

// NewDefaultLogger returns a SimpleLogger honoring the ACP_LOG_LEVEL
// environment variable, falling back to info.
func NewDefaultLogger() core.Logger {
	return NewSimpleLogger(os.Getenv(core.EnvLogLevel))
}

func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	if l.level <= DebugLevel {
		l.log("DEBUG", msg, fields)
	}
}

func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	if l.level <= InfoLevel {
		l.log("INFO", msg, fields)
	}
}

func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	if l.level <= WarnLevel {
		l.log("WARN", msg, fields)
	}
}

func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) {
	if l.level <= ErrorLevel {
		l.log("ERROR", msg, fields)
	}
}

func (l *SimpleLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withTraceID(ctx, fields))
}

func (l *SimpleLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withTraceID(ctx, fields))
}

func (l *SimpleLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withTraceID(ctx, fields))
}

func (l *SimpleLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withTraceID(ctx, fields))
}

// traceIDKey is the context key a caller may use to carry a correlation
// id through to every log line emitted while handling a request.
type traceIDKey struct{}

// WithTraceID returns a context carrying traceID for the *WithContext
// logging methods to pick up.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func withTraceID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	traceID, ok := ctx.Value(traceIDKey{}).(string)
	if !ok || traceID == "" {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["traceId"] = traceID
	return merged
}

// WithComponent returns a logger scoped to component; see
// core.ComponentAwareLogger for the naming convention.
func (l *SimpleLogger) WithComponent(component string) core.Logger {
	return &SimpleLogger{level: l.level, component: component, fields: l.fields}
}

// SetLevel changes the minimum severity logged from this point forward.
func (l *SimpleLogger) SetLevel(level string) { l.level = parseLevel(level) }

func (l *SimpleLogger) log(level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	if l.component != "" {
		fmt.Fprintf(&b, "component=%s ", l.component)
	}
	b.WriteString(msg)
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	log.Println(b.String())
}

// timeFormat is millisecond-precision RFC 3339.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t as millisecond-precision RFC 3339.
func FormatTimestamp(t time.Time) string { return t.Format(timeFormat) }
