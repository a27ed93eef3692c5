package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 30s
auth:
  enabled: true
  keys:
    - key: Secret-Key
      team_id: team-a
    - key: other
      team_id: team-b
logging:
  development: false
store:
  backend: redis
  redis:
    addr: redis:6379
    prefix: "reg:"
aggregator:
  list_timeout: 5s
  item_timeout: 250ms
  max_concurrency: 8
dispatch:
  backend: kafka
  topic: crawl.jobs
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
history:
  enabled: true
  dsn: postgres://localhost/registry
  limit: 25
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if team, ok := cfg.Auth.TeamForKey("Secret-Key"); !ok || team != "team-a" {
		t.Fatalf("expected Secret-Key to map to team-a, got %q %v", team, ok)
	}
	if _, ok := cfg.Auth.TeamForKey("secret-key"); ok {
		t.Fatal("expected key lookup to be case-sensitive")
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.Redis.Prefix != "reg:" || cfg.Store.Redis.MaxRetries != 64 {
		t.Fatalf("expected redis store overrides, got %+v", cfg.Store)
	}
	if cfg.Aggregator.ItemTimeout != 250*time.Millisecond || cfg.Aggregator.MaxConcurrency != 8 {
		t.Fatalf("expected aggregator overrides, got %+v", cfg.Aggregator)
	}
	if cfg.Dispatch.Backend != DispatchKafka || len(cfg.Dispatch.Kafka.Brokers) != 2 {
		t.Fatalf("expected kafka dispatch, got %+v", cfg.Dispatch)
	}
	if !cfg.History.Enabled || cfg.History.Limit != 25 {
		t.Fatalf("expected history overrides, got %+v", cfg.History)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging to be disabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Dispatch.Backend != DispatchMemory {
		t.Fatalf("expected in-memory defaults, got %+v %+v", cfg.Store, cfg.Dispatch)
	}
	if cfg.Auth.Enabled || cfg.Auth.DefaultTeam != "bypass" {
		t.Fatalf("expected auth disabled with bypass team, got %+v", cfg.Auth)
	}
	if cfg.History.Enabled || cfg.History.Limit != 50 {
		t.Fatalf("expected history disabled with limit 50, got %+v", cfg.History)
	}
	if cfg.Aggregator.ListTimeout != 10*time.Second {
		t.Fatalf("expected 10s list timeout, got %v", cfg.Aggregator.ListTimeout)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Auth:       AuthConfig{DefaultTeam: "bypass"},
		Store:      StoreConfig{Backend: BackendMemory},
		Aggregator: AggregatorConfig{ListTimeout: time.Second, ItemTimeout: time.Second, MaxConcurrency: 1},
		Dispatch:   DispatchConfig{Backend: DispatchMemory, Topic: "jobs"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth without keys", func(c *Config) { c.Auth.Enabled = true }, "auth.keys"},
		{"auth key without team", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.Keys = []APIKey{{Key: "k"}}
		}, "auth.keys[0]"},
		{"no default team", func(c *Config) { c.Auth.DefaultTeam = "" }, "auth.default_team"},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"redis without addr", func(c *Config) { c.Store.Backend = BackendRedis }, "store.redis.addr"},
		{"zero concurrency", func(c *Config) { c.Aggregator.MaxConcurrency = 0 }, "aggregator.max_concurrency"},
		{"zero item timeout", func(c *Config) { c.Aggregator.ItemTimeout = 0 }, "aggregator.item_timeout"},
		{"missing topic", func(c *Config) { c.Dispatch.Topic = "" }, "dispatch.topic"},
		{"pubsub without project", func(c *Config) { c.Dispatch.Backend = DispatchPubSub }, "dispatch.pubsub.project_id"},
		{"kafka without brokers", func(c *Config) { c.Dispatch.Backend = DispatchKafka }, "dispatch.kafka.brokers"},
		{"unknown dispatch", func(c *Config) { c.Dispatch.Backend = "sqs" }, "dispatch.backend"},
		{"history without dsn", func(c *Config) { c.History.Enabled = true }, "history.dsn"},
		{"events without topic", func(c *Config) { c.Events.Enabled = true }, "events.topic"},
		{"negative rate limit", func(c *Config) { c.RateLimit.SubmissionsPerSecond = -1 }, "rate_limit"},
		{"telemetry ratio out of range", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRatio = 1.5
		}, "telemetry.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
