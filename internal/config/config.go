// Package config loads and validates registry configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Dispatch backends.
const (
	DispatchMemory = "memory"
	DispatchPubSub = "pubsub"
	DispatchKafka  = "kafka"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	History    HistoryConfig    `mapstructure:"history"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// InternalToken guards the worker callback routes. Empty disables the check.
	InternalToken string `mapstructure:"internal_token"`
}

// AuthConfig maps API keys to teams. When disabled every request acts as
// DefaultTeam.
type AuthConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Keys        []APIKey `mapstructure:"keys"`
	DefaultTeam string   `mapstructure:"default_team"`
}

// APIKey binds one key to the team it authenticates.
type APIKey struct {
	Key    string `mapstructure:"key"`
	TeamID string `mapstructure:"team_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects the record store and owner index backend.
type StoreConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Prefix     string `mapstructure:"prefix"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// AggregatorConfig bounds listing cost.
type AggregatorConfig struct {
	ListTimeout    time.Duration `mapstructure:"list_timeout"`
	ItemTimeout    time.Duration `mapstructure:"item_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// DispatchConfig selects where new jobs are published.
type DispatchConfig struct {
	Backend string       `mapstructure:"backend"`
	Topic   string       `mapstructure:"topic"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	Kafka   KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds metadata for Google Pub/Sub dispatch.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// KafkaConfig lists the brokers used for Kafka dispatch.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// HistoryConfig controls the SQL-backed history endpoints.
type HistoryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	Limit           int           `mapstructure:"limit"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// EventsConfig controls the lifecycle event stream published alongside
// dispatch.
type EventsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Topic      string        `mapstructure:"topic"`
	BufferSize int           `mapstructure:"buffer_size"`
	MaxBatch   int           `mapstructure:"max_batch"`
	MaxWait    time.Duration `mapstructure:"max_wait"`
}

// RateLimitConfig bounds per-team submissions. Zero disables limiting.
type RateLimitConfig struct {
	SubmissionsPerSecond float64 `mapstructure:"submissions_per_second"`
	Burst                int     `mapstructure:"burst"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceVersion string  `mapstructure:"service_version"`
	ProjectID      string  `mapstructure:"project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.internal_token", "")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.default_team", "bypass")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "registry:")
	v.SetDefault("store.redis.max_retries", 64)
	v.SetDefault("aggregator.list_timeout", 10*time.Second)
	v.SetDefault("aggregator.item_timeout", 2*time.Second)
	v.SetDefault("aggregator.max_concurrency", 16)
	v.SetDefault("dispatch.backend", DispatchMemory)
	v.SetDefault("dispatch.topic", "registry.jobs")
	v.SetDefault("dispatch.kafka.batch_timeout", 10*time.Millisecond)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.limit", 50)
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "registry.job-events")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch", 100)
	v.SetDefault("events.max_wait", 250*time.Millisecond)
	v.SetDefault("rate_limit.submissions_per_second", 0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled {
		if len(c.Auth.Keys) == 0 {
			return fmt.Errorf("auth.keys must be set when auth is enabled")
		}
		for i, k := range c.Auth.Keys {
			if k.Key == "" || k.TeamID == "" {
				return fmt.Errorf("auth.keys[%d] requires key and team_id", i)
			}
		}
	} else if c.Auth.DefaultTeam == "" {
		return fmt.Errorf("auth.default_team must be set when auth is disabled")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	if c.Aggregator.MaxConcurrency <= 0 {
		return fmt.Errorf("aggregator.max_concurrency must be > 0")
	}
	if c.Aggregator.ItemTimeout <= 0 || c.Aggregator.ListTimeout <= 0 {
		return fmt.Errorf("aggregator.list_timeout and aggregator.item_timeout must be > 0")
	}
	if c.Dispatch.Topic == "" {
		return fmt.Errorf("dispatch.topic is required")
	}
	switch c.Dispatch.Backend {
	case DispatchMemory:
	case DispatchPubSub:
		if c.Dispatch.PubSub.ProjectID == "" {
			return fmt.Errorf("dispatch.pubsub.project_id is required for the pubsub backend")
		}
	case DispatchKafka:
		if len(c.Dispatch.Kafka.Brokers) == 0 {
			return fmt.Errorf("dispatch.kafka.brokers is required for the kafka backend")
		}
	default:
		return fmt.Errorf("dispatch.backend %q is not supported", c.Dispatch.Backend)
	}
	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history.dsn must be set when history is enabled")
	}
	if c.Events.Enabled && c.Events.Topic == "" {
		return fmt.Errorf("events.topic is required when events are enabled")
	}
	if c.RateLimit.SubmissionsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be >= 0")
	}
	if c.Telemetry.Enabled && (c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1) {
		return fmt.Errorf("telemetry.sample_ratio must be in (0, 1]")
	}
	return nil
}

// TeamForKey returns the team bound to key.
func (a AuthConfig) TeamForKey(key string) (string, bool) {
	for _, k := range a.Keys {
		if k.Key == key {
			return k.TeamID, true
		}
	}
	return "", false
}
