package core

import "time"

// Environment variables recognized by core.NewConfig (see config.go).
const (
	EnvHandlerTimeout      = "ACP_BUS_HANDLER_TIMEOUT"
	EnvDefaultRequestTimeout = "ACP_DEFAULT_REQUEST_TIMEOUT"
	EnvLogLevel            = "ACP_LOG_LEVEL"
	EnvDevMode             = "ACP_DEV_MODE"
)

// Defaults shared by the bus, resilience kernel, and orchestrator.
const (
	DefaultRequestTimeout          = 30 * time.Second
	DefaultRetryMaxAttempts        = 3
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerOpenTimeout      = 30 * time.Second
	DefaultBreakerSuccessThreshold = 2
	DefaultStopDrainTimeout        = 10 * time.Second
)

// MessageIDPrefix / goal / task id prefixes: "acp-<random>".
const (
	MessageIDPrefix = "acp-"
	TaskIDPrefix    = "task-"
	GoalIDPrefix    = "goal-"
	SubIDPrefix     = "sub-"
)
