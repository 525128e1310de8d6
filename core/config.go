package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the coordination substrate reads at startup.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithLogLevel("debug"),
//	    WithBreakerThresholds(5, 2),
//	)
type Config struct {
	Bus         BusConfig
	Resilience  ResilienceConfig
	Transport   TransportConfig
	Orchestrator OrchestratorConfig
	Support     SupportConfig
	Logging     LoggingConfig

	logger Logger
}

// BusConfig tunes the in-process message bus.
type BusConfig struct {
	HandlerTimeout     time.Duration `env:"ACP_BUS_HANDLER_TIMEOUT" default:"30s"`
	DeliveryBufferSize int           `env:"ACP_BUS_BUFFER_SIZE" default:"256"`
	DefaultRequestTimeout time.Duration `env:"ACP_DEFAULT_REQUEST_TIMEOUT" default:"30s"`
}

// ResilienceConfig records retry and circuit-breaker parameters. The
// resilience package takes its defaults (DefaultRetryOptions,
// DefaultCircuitBreakerOptions) from the core constants and does not read
// this struct.
type ResilienceConfig struct {
	RetryMaxAttempts        int           `env:"ACP_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialInterval    time.Duration `env:"ACP_RETRY_INITIAL_INTERVAL" default:"200ms"`
	RetryMaxInterval        time.Duration `env:"ACP_RETRY_MAX_INTERVAL" default:"10s"`
	BreakerFailureThreshold int           `env:"ACP_BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerSuccessThreshold int           `env:"ACP_BREAKER_SUCCESS_THRESHOLD" default:"2"`
	BreakerOpenTimeout      time.Duration `env:"ACP_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// TransportConfig tunes both stdio and WebSocket duplex transports.
type TransportConfig struct {
	ConnectTimeout        time.Duration `env:"ACP_TRANSPORT_CONNECT_TIMEOUT" default:"10s"`
	ReconnectBaseInterval time.Duration `env:"ACP_TRANSPORT_RECONNECT_BASE" default:"1s"`
	ReconnectMaxInterval  time.Duration `env:"ACP_TRANSPORT_RECONNECT_MAX" default:"30s"`
	PingInterval          time.Duration `env:"ACP_TRANSPORT_PING_INTERVAL" default:"20s"`
}

// OrchestratorConfig tunes the goal/workflow runner.
type OrchestratorConfig struct {
	StopDrainTimeout time.Duration   `env:"ACP_ORCHESTRATOR_STOP_DRAIN_TIMEOUT" default:"10s"`
	DefaultOnFailure OnFailurePolicy `env:"ACP_ORCHESTRATOR_ON_FAILURE" default:"continue-remaining"`
}

// SupportConfig tunes the support primitives: budget manager, usage
// tracker ring size, and notifier rate limit.
type SupportConfig struct {
	UsageTrackerCapacity int     `env:"ACP_USAGE_TRACKER_CAPACITY" default:"1000"`
	NotifierRatePerSec   float64 `env:"ACP_NOTIFIER_RATE_PER_SEC" default:"5"`
	NotifierBurst        int     `env:"ACP_NOTIFIER_BURST" default:"10"`
	SweepInterval        time.Duration `env:"ACP_SWEEP_INTERVAL" default:"1m"`
}

// LoggingConfig controls the default SimpleLogger / TintLogger sink.
type LoggingConfig struct {
	Level   string `env:"ACP_LOG_LEVEL" default:"info"`
	DevMode bool   `env:"ACP_DEV_MODE" default:"false"`
}

// Option is a functional option for configuring the substrate. Options run
// after defaults and environment variables, so they always win.
type Option func(*Config) error

// DefaultConfig returns a configuration with every field set to its
// documented default, independent of the environment.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			HandlerTimeout:        DefaultRequestTimeout,
			DeliveryBufferSize:    256,
			DefaultRequestTimeout: DefaultRequestTimeout,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:        DefaultRetryMaxAttempts,
			RetryInitialInterval:    200 * time.Millisecond,
			RetryMaxInterval:        10 * time.Second,
			BreakerFailureThreshold: DefaultBreakerFailureThreshold,
			BreakerSuccessThreshold: DefaultBreakerSuccessThreshold,
			BreakerOpenTimeout:      DefaultBreakerOpenTimeout,
		},
		Transport: TransportConfig{
			ConnectTimeout:        10 * time.Second,
			ReconnectBaseInterval: 1 * time.Second,
			ReconnectMaxInterval:  30 * time.Second,
			PingInterval:          20 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			StopDrainTimeout: DefaultStopDrainTimeout,
			DefaultOnFailure: OnFailureContinueRemaining,
		},
		Support: SupportConfig{
			UsageTrackerCapacity: 1000,
			NotifierRatePerSec:   5,
			NotifierBurst:        10,
			SweepInterval:        1 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:   "info",
			DevMode: false,
		},
	}
}

// LoadFromEnv overlays environment variables onto c. It reads only
// ACP_BUS_HANDLER_TIMEOUT, ACP_DEFAULT_REQUEST_TIMEOUT, ACP_LOG_LEVEL and
// ACP_DEV_MODE; the env tags on the other fields are not read. A malformed
// duration is logged (if a logger is attached) and otherwise left at its
// prior value.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvHandlerTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Bus.HandlerTimeout = d
		} else {
			c.warn(EnvHandlerTimeout, v, err)
		}
	}
	if v := os.Getenv(EnvDefaultRequestTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Bus.DefaultRequestTimeout = d
		} else {
			c.warn(EnvDefaultRequestTimeout, v, err)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.Logging.DevMode = parseBool(v)
	}
	return nil
}

func (c *Config) warn(envVar, value string, err error) {
	if c.logger != nil {
		c.logger.Warn("invalid environment variable", map[string]interface{}{
			"env": envVar, "value": value, "error": err.Error(),
		})
	}
}

// NewConfig builds a Config from defaults, then environment variables,
// then the supplied options, in that priority order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, NewFrameworkError("NewConfig", ErrCodeInternal, err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, NewFrameworkError("NewConfig", ErrCodeValidation, err)
		}
	}
	return cfg, nil
}

// WithLogLevel sets the logging level ("debug", "info", "warn", "error").
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithDevMode toggles development-friendly (pretty, verbose) logging.
func WithDevMode(enabled bool) Option {
	return func(c *Config) error {
		c.Logging.DevMode = enabled
		return nil
	}
}

// WithLogger attaches a logger that LoadFromEnv uses for its diagnostics.
// NewConfig applies options after it has loaded the environment, so a
// logger passed to NewConfig does not see that first pass.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithBreakerThresholds sets the consecutive failure/success thresholds in
// Config.Resilience; circuit breakers do not read them (see
// ResilienceConfig).
func WithBreakerThresholds(failures, successes int) Option {
	return func(c *Config) error {
		if failures <= 0 || successes <= 0 {
			return &ValidationError{Field: "breakerThresholds", Message: "thresholds must be positive"}
		}
		c.Resilience.BreakerFailureThreshold = failures
		c.Resilience.BreakerSuccessThreshold = successes
		return nil
	}
}

// WithRetryDefaults sets the retry attempt count and backoff bounds in
// Config.Resilience; resilience.DefaultRetryOptions does not read them (see
// ResilienceConfig).
func WithRetryDefaults(maxAttempts int, initial, max time.Duration) Option {
	return func(c *Config) error {
		if maxAttempts <= 0 {
			return &ValidationError{Field: "retryMaxAttempts", Message: "must be positive"}
		}
		c.Resilience.RetryMaxAttempts = maxAttempts
		c.Resilience.RetryInitialInterval = initial
		c.Resilience.RetryMaxInterval = max
		return nil
	}
}

// WithBusBufferSize sets Config.Bus.DeliveryBufferSize. The bus delivers
// synchronously, keeps no per-subscriber buffer, and does not read it.
func WithBusBufferSize(size int) Option {
	return func(c *Config) error {
		if size <= 0 {
			return &ValidationError{Field: "busBufferSize", Message: "must be positive"}
		}
		c.Bus.DeliveryBufferSize = size
		return nil
	}
}

// WithDefaultOnFailure sets Config.Orchestrator.DefaultOnFailure. Neither
// NewWorkflow nor the orchestrator reads it: a Workflow created without an
// explicit policy always gets continue-remaining.
func WithDefaultOnFailure(policy OnFailurePolicy) Option {
	return func(c *Config) error {
		c.Orchestrator.DefaultOnFailure = policy
		return nil
	}
}

// WithStopDrainTimeout sets Config.Orchestrator.StopDrainTimeout. The
// orchestrator uses it as the per-task request timeout; Runner.Destroy does
// not wait on it, and agents take their stop timeout from agent.New.
func WithStopDrainTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Orchestrator.StopDrainTimeout = d
		return nil
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return b
}
