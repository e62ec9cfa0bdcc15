package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalJSON = `{
  "telegram": {"token": "t", "chat_id": 1},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "scheduler": {"enabled": true, "poll_interval": "100ms", "timezone": "UTC"},
  "rate_limit": {"exchange": {"limit": 5, "window": "1m"}},
  "jobs": [
    {"name": "heartbeat", "cron": "*/5 * * * *", "kind": "heartbeat"},
    {"name": "quota", "cron": "* * * * *", "kind": "webhook", "rate_class": "exchange",
     "retry": {"max_attempts": 3, "delay": "2s", "backoff_multiplier": 2, "max_delay": "30s"}}
  ]
}`

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", minimalJSON))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.PollInterval != "100ms" || !cfg.Scheduler.Enabled {
		t.Fatalf("scheduler section: %+v", cfg.Scheduler)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[1].RateClass != "exchange" {
		t.Fatalf("jobs section: %+v", cfg.Jobs)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json",
		`{"telegram": {"token": "t", "chat_id": 1}, "loging": {}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("misspelled section must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", `{}{}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("concatenated JSON must be rejected")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.yaml", `
telegram:
  token: t
  chat_id: 1
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
scheduler:
  enabled: true
  poll_interval: 250ms
jobs:
  - name: tick
    cron: "* * * * *"
    kind: heartbeat
`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || len(cfg.Jobs) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Enabled: true, PollInterval: "250ms"},
			RateLimit: map[string]RateClassConfig{"api": {Limit: 10, Window: "1m"}},
			Jobs: []JobConfig{
				{Name: "j", Cron: "* * * * *", Kind: "heartbeat"},
			},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad poll interval", func(c *Config) { c.Scheduler.PollInterval = "fast" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"zero rate limit", func(c *Config) { c.RateLimit["api"] = RateClassConfig{Limit: 0, Window: "1m"} }},
		{"zero rate window", func(c *Config) { c.RateLimit["api"] = RateClassConfig{Limit: 1, Window: "0s"} }},
		{"bad cron", func(c *Config) { c.Jobs[0].Cron = "61 * * * *" }},
		{"missing kind", func(c *Config) { c.Jobs[0].Kind = "" }},
		{"unknown rate class", func(c *Config) { c.Jobs[0].RateClass = "nope" }},
		{"duplicate names", func(c *Config) { c.Jobs = append(c.Jobs, c.Jobs[0]) }},
		{"negative retry attempts", func(c *Config) { c.Jobs[0].Retry = &RetryConfig{MaxAttempts: -1} }},
		{"bad storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "  10s "); err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be 0, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	m.publish(first)
	m.publish(second) // buffer full: oldest dropped, newest delivered

	got := <-ch
	if got != second {
		t.Fatal("slow subscriber must see the newest config")
	}
}
