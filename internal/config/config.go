// Package config loads the worker configuration from YAML and FLOWWORKER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/db"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/registry"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g. FLOWWORKER_LOGGING_LEVEL
const EnvPrefix = "FLOWWORKER"

// Coordinator providers
const (
	ProviderTemporal = "temporal"
	ProviderMemory   = "memory"
)

type CoordinatorConfig struct {
	Provider    string        `mapstructure:"provider"`
	HostPort    string        `mapstructure:"host_port"`
	Namespace   string        `mapstructure:"namespace"`
	DialRetries int           `mapstructure:"dial_retries"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	PageSize    int32         `mapstructure:"page_size"`
	PageTTL     time.Duration `mapstructure:"page_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

type PollConfig struct {
	// RatePerSecond paces polls per agent; zero means unlimited
	RatePerSecond float64             `mapstructure:"rate_per_second"`
	Burst         int                 `mapstructure:"burst"`
	Backoff       agent.BackoffConfig `mapstructure:"backoff"`
}

type EventsConfig struct {
	RingCapacity  int    `mapstructure:"ring_capacity"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Stream        string `mapstructure:"stream"`
	MaxLen        int64  `mapstructure:"max_len"`
	// StreamSecret, when set, requires an HS256 token on the stream endpoints
	StreamSecret string `mapstructure:"stream_secret"`
}

// Config is the whole worker configuration
type Config struct {
	Coordinator    CoordinatorConfig                   `mapstructure:"coordinator"`
	Logging        LoggingConfig                       `mapstructure:"logging"`
	Metrics        MetricsConfig                       `mapstructure:"metrics"`
	Health         HealthConfig                        `mapstructure:"health"`
	Tracing        tracing.Config                      `mapstructure:"tracing"`
	Poll           PollConfig                          `mapstructure:"poll"`
	CircuitBreaker circuitbreaker.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Events         EventsConfig                        `mapstructure:"events"`
	Journal        db.Config                           `mapstructure:"journal"`
	// Manifest optionally names a standalone worker manifest whose workers
	// are added to Workers.
	Manifest string            `mapstructure:"manifest"`
	Workers  []registry.Worker `mapstructure:"workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("coordinator.provider", ProviderTemporal)
	v.SetDefault("coordinator.host_port", "localhost:7233")
	v.SetDefault("coordinator.namespace", "default")
	v.SetDefault("coordinator.dial_retries", 0)
	v.SetDefault("coordinator.poll_timeout", 70*time.Second)
	v.SetDefault("coordinator.page_size", 0)
	v.SetDefault("coordinator.page_ttl", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8081)
	v.SetDefault("health.check_interval", 30*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "flowworker")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	backoff := agent.DefaultBackoffConfig()
	v.SetDefault("poll.rate_per_second", 0)
	v.SetDefault("poll.burst", 1)
	v.SetDefault("poll.backoff.initial", backoff.InitialInterval)
	v.SetDefault("poll.backoff.max", backoff.MaxInterval)
	v.SetDefault("poll.backoff.multiplier", backoff.Multiplier)
	v.SetDefault("poll.backoff.jitter", backoff.RandomizationFactor)
	v.SetDefault("poll.backoff.max_elapsed", backoff.MaxElapsedTime)

	cb := circuitbreaker.GetCoordinatorConfig()
	v.SetDefault("circuit_breaker.max_requests", cb.MaxRequests)
	v.SetDefault("circuit_breaker.interval", cb.Interval)
	v.SetDefault("circuit_breaker.timeout", cb.Timeout)
	v.SetDefault("circuit_breaker.failure_threshold", cb.FailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", cb.SuccessThreshold)

	v.SetDefault("events.ring_capacity", 256)
	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.redis_password", "")
	v.SetDefault("events.redis_db", 0)
	v.SetDefault("events.stream", "flowworker:events")
	v.SetDefault("events.max_len", 10000)
	v.SetDefault("events.stream_secret", "")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.driver", "sqlite3")
	v.SetDefault("journal.dsn", "file:flowworker.db?cache=shared")

	v.SetDefault("manifest", "")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads the config file at path (optional) and applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Manifest != "" {
		m, err := registry.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		cfg.Workers = append(cfg.Workers, m.Workers...)
	}
	for i := range cfg.Workers {
		if cfg.Workers[i].Instances == 0 {
			cfg.Workers[i].Instances = 1
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings nothing downstream can recover from
func (c *Config) Validate() error {
	var errs []error
	switch c.Coordinator.Provider {
	case ProviderTemporal:
		if c.Coordinator.HostPort == "" {
			errs = append(errs, errors.New("coordinator.host_port is required for the temporal provider"))
		}
	case ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown coordinator provider %q", c.Coordinator.Provider))
	}
	if c.Poll.RatePerSecond < 0 {
		errs = append(errs, errors.New("poll.rate_per_second must not be negative"))
	}
	if c.Journal.Enabled && c.Journal.Driver != "postgres" && c.Journal.Driver != "sqlite3" {
		errs = append(errs, fmt.Errorf("unsupported journal driver %q", c.Journal.Driver))
	}
	for _, w := range c.Workers {
		if err := w.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
