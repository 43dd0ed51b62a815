// Package config provides configuration management for the gateway.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victoralfred/cadgate/observability"
	"github.com/victoralfred/cadgate/resilience"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server         ServerConfig                      `yaml:"server"`
	Executor       ExecutorConfig                    `yaml:"executor"`
	Dispatcher     DispatcherConfig                  `yaml:"dispatcher"`
	PolicyBasePath string                            `yaml:"policy_base_path"`
	PolicyPath     string                            `yaml:"policy_path"`
	MacroDir       string                            `yaml:"macro_dir"`
	RateLimiter    resilience.RateLimiterConfig      `yaml:"rate_limiter"`
	CircuitBreaker resilience.CircuitBreakerConfig   `yaml:"circuit_breaker"`
	Telemetry      observability.TelemetryConfig     `yaml:"telemetry"`
	Audit          observability.AuditConfig         `yaml:"audit"`
}

// ServerConfig configures the socket listener.
type ServerConfig struct {
	// Addr is the listen address. Only loopback addresses are sensible; the
	// protocol carries no authentication.
	Addr string `yaml:"addr"`

	// MaxFrameSize caps a single request frame in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`

	// MaxClients caps concurrent connections.
	MaxClients int `yaml:"max_clients"`

	// IdleTimeout disconnects clients with no traffic for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ExecutorConfig configures macro execution.
type ExecutorConfig struct {
	// DefaultTimeout is the wall-clock budget per execution.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxSteps caps interpreter computation steps (0 = no cap).
	MaxSteps uint64 `yaml:"max_steps"`

	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
	EnableAudit   bool `yaml:"enable_audit"`
}

// DispatcherConfig configures command dispatch.
type DispatcherConfig struct {
	// QueueSize bounds the mutation queue; commands beyond it are rejected
	// rather than buffered without limit.
	QueueSize int `yaml:"queue_size"`

	// WaitTimeout bounds how long a command waits for the mutation loop
	// before the dispatcher gives up on it. Execution has its own budget;
	// this one keeps the queue itself live.
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:9876",
			MaxFrameSize: 4 * 1024 * 1024,
			MaxClients:   16,
			IdleTimeout:  5 * time.Minute,
		},
		Executor: ExecutorConfig{
			DefaultTimeout: 30 * time.Second,
			MaxSteps:       0,
			EnableMetrics:  true,
			EnableTracing:  true,
			EnableAudit:    true,
		},
		Dispatcher: DispatcherConfig{
			QueueSize:   64,
			WaitTimeout: 2 * time.Minute,
		},
		PolicyBasePath: "/etc/cadgate",
		PolicyPath:     "policy.yaml",
		MacroDir:       "/var/lib/cadgate/macros",
		RateLimiter:    resilience.DefaultRateLimiterConfig(),
		CircuitBreaker: resilience.DefaultCircuitBreakerConfig(),
		Telemetry:      observability.DefaultTelemetryConfig(),
		Audit:          observability.DefaultAuditConfig(),
	}
}

// DevelopmentConfig returns configuration suitable for development.
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Executor.DefaultTimeout = 60 * time.Second
	cfg.RateLimiter.DefaultLimit = 1000
	cfg.RateLimiter.DefaultBurst = 2000
	cfg.CircuitBreaker.FailureThreshold = 10
	cfg.Audit.IncludeOutput = true
	cfg.Telemetry.Environment = "development"
	return cfg
}

// ProductionConfig returns configuration suitable for production.
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.Executor.DefaultTimeout = 30 * time.Second
	cfg.Executor.MaxSteps = 50_000_000
	cfg.Server.MaxClients = 8
	cfg.RateLimiter.DefaultLimit = 50
	cfg.RateLimiter.DefaultBurst = 100
	cfg.CircuitBreaker.FailureThreshold = 5
	cfg.CircuitBreaker.Timeout = 60 * time.Second
	cfg.Audit.IncludeOutput = false
	cfg.Telemetry.Environment = "production"
	return cfg
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate normalizes out-of-range values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:9876"
	}
	if c.Server.MaxFrameSize <= 0 {
		c.Server.MaxFrameSize = 4 * 1024 * 1024
	}
	if c.Server.MaxClients <= 0 {
		c.Server.MaxClients = 16
	}
	if c.Executor.DefaultTimeout <= 0 {
		c.Executor.DefaultTimeout = 30 * time.Second
	}
	if c.Dispatcher.QueueSize <= 0 {
		c.Dispatcher.QueueSize = 64
	}
	if c.Dispatcher.WaitTimeout <= 0 {
		c.Dispatcher.WaitTimeout = 2 * time.Minute
	}
	return nil
}
