package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
alerts:
  temp_threshold: 4.0
  g_force_threshold: 1.5
  consecutive_events_threshold: 5
  recovery_delta: 0.5
  cooldown_seconds: 180
  send_recovery_notifications: true
  channels:
    temperature:
      - type: discord
        url_env: WEBHOOK_TEMP
    door:
      - type: slack
        url_env: WEBHOOK_DOOR
      - type: log
forwarder:
  type: http
  endpoint: "http://ingest:8000/ingest"
  max_retries: 5
  backoff_base: 3
  backoff_unit: 500ms
  request_timeout: 2s
source:
  mqtt:
    broker: "tcp://mosquitto:1883"
    topic: "greendelivery/rubia/telemetry"
`
	cfg := loadFromString(t, yaml)

	if cfg.Alerts.TempThreshold != 4.0 {
		t.Errorf("temp_threshold: got %v", cfg.Alerts.TempThreshold)
	}
	if cfg.Alerts.ConsecutiveEventsThreshold != 5 {
		t.Errorf("consecutive_events_threshold: got %d", cfg.Alerts.ConsecutiveEventsThreshold)
	}
	if cfg.Alerts.Cooldown() != 3*time.Minute {
		t.Errorf("cooldown: got %v", cfg.Alerts.Cooldown())
	}
	if !cfg.Alerts.SendRecoveryNotifications {
		t.Error("send_recovery_notifications: got false")
	}
	if len(cfg.Alerts.Channels[ChannelDoor]) != 2 {
		t.Fatalf("door targets: got %d, want 2", len(cfg.Alerts.Channels[ChannelDoor]))
	}
	if cfg.Forwarder.MaxRetries != 5 || cfg.Forwarder.BackoffBase != 3 {
		t.Errorf("forwarder retry: got %d/%v", cfg.Forwarder.MaxRetries, cfg.Forwarder.BackoffBase)
	}
	if cfg.Forwarder.BackoffUnit != 500*time.Millisecond {
		t.Errorf("backoff_unit: got %v", cfg.Forwarder.BackoffUnit)
	}
	if cfg.Forwarder.RequestTimeout != 2*time.Second {
		t.Errorf("request_timeout: got %v", cfg.Forwarder.RequestTimeout)
	}
	if cfg.Source.MQTT.Topic != "greendelivery/rubia/telemetry" {
		t.Errorf("mqtt topic: got %q", cfg.Source.MQTT.Topic)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
forwarder:
  endpoint: "http://ingest:8000/ingest"
`)

	if cfg.Alerts.TempThreshold != DefaultTempThreshold {
		t.Errorf("default temp_threshold: got %v", cfg.Alerts.TempThreshold)
	}
	if cfg.Alerts.ConsecutiveEventsThreshold != DefaultConsecutiveEvents {
		t.Errorf("default consecutive_events_threshold: got %d", cfg.Alerts.ConsecutiveEventsThreshold)
	}
	if cfg.Alerts.SendRecoveryNotifications {
		t.Error("default send_recovery_notifications should be false")
	}
	if cfg.Forwarder.Type != "http" {
		t.Errorf("default forwarder type: got %q", cfg.Forwarder.Type)
	}
	if cfg.Forwarder.MaxRetries != DefaultMaxRetries {
		t.Errorf("default max_retries: got %d", cfg.Forwarder.MaxRetries)
	}
	if cfg.Source.MQTT.Topic != DefaultMQTTTopic {
		t.Errorf("default topic: got %q", cfg.Source.MQTT.Topic)
	}
	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("default http port: got %d", cfg.HTTP.Port)
	}
	if cfg.Forwarder.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("default max_backoff: got %v", cfg.Forwarder.MaxBackoff)
	}
	if cfg.HTTP.BroadcastInterval != DefaultBroadcastInterval || cfg.HTTP.LatestTTL != DefaultLatestTTL {
		t.Errorf("default http intervals: got %v/%v", cfg.HTTP.BroadcastInterval, cfg.HTTP.LatestTTL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing endpoint", `forwarder: {type: http}`},
		{"unknown forwarder", `forwarder: {type: kafka}`},
		{"zero retries", `forwarder: {type: none, max_retries: 0}`},
		{"backoff base below one", `forwarder: {type: none, backoff_base: 0.5}`},
		{"zero consecutive", "forwarder: {type: none}\nalerts: {consecutive_events_threshold: 0}"},
		{"negative cooldown", "forwarder: {type: none}\nalerts: {cooldown_seconds: -1}"},
		{"unknown channel", "forwarder: {type: none}\nalerts:\n  channels:\n    humidity: [{type: log}]"},
		{"webhook without url", "forwarder: {type: none}\nalerts:\n  channels:\n    door: [{type: discord}]"},
		{"redis target without addr", "forwarder: {type: none}\nalerts:\n  channels:\n    door: [{type: redis}]"},
		{"redis forwarder without addr", `forwarder: {type: redis}`},
		{"postgres without dsn", `forwarder: {type: postgres}`},
		{"bad auth mode", "forwarder: {type: none}\nhttp: {auth: {mode: magic}}"},
		{"bad qos", "forwarder: {type: none}\nsource: {mqtt: {qos: 3}}"},
		{"zero broadcast interval", "forwarder: {type: none}\nhttp: {broadcast_interval: 0s}"},
		{"negative broadcast interval", "forwarder: {type: none}\nhttp: {broadcast_interval: -1s}"},
		{"zero latest ttl", "forwarder: {type: none}\nhttp: {latest_ttl: 0s}"},
		{"negative latest ttl", "forwarder: {type: none}\nhttp: {latest_ttl: -5m}"},
		{"zero max backoff", "forwarder: {type: none, max_backoff: 0s}"},
		{"not yaml", `:::`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load("../../../config.example.yaml")
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Alerts.RecoveryDelta != 0.5 {
		t.Errorf("RecoveryDelta: got %v, want 0.5", cfg.Alerts.RecoveryDelta)
	}
	if got := len(cfg.Alerts.Channels[ChannelDoor]); got != 2 {
		t.Errorf("door targets: got %d, want 2", got)
	}
}

func TestEnvResolvedSecrets(t *testing.T) {
	t.Setenv("TEST_WEBHOOK", "https://discord.example.com/api/webhooks/1")
	t.Setenv("TEST_API_KEY", "supersecret")
	t.Setenv("TEST_DSN", "postgres://u:p@localhost/db")

	if got := (TargetConfig{URLEnv: "TEST_WEBHOOK"}).URL(); got != "https://discord.example.com/api/webhooks/1" {
		t.Errorf("URL(): got %q", got)
	}
	if got := (AuthConfig{KeyEnv: "TEST_API_KEY"}).Key(); got != "supersecret" {
		t.Errorf("Key(): got %q", got)
	}
	if got := (PostgresConfig{DSNEnv: "TEST_DSN"}).DSN(); got != "postgres://u:p@localhost/db" {
		t.Errorf("DSN(): got %q", got)
	}
	if got := (TargetConfig{}).URL(); got != "" {
		t.Errorf("URL() without env: got %q", got)
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "X-API-Key" {
		t.Errorf("default header: got %q", got)
	}
	if got := (AuthConfig{Header: "X-Token"}).EffectiveHeader(); got != "X-Token" {
		t.Errorf("custom header: got %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "forwarder: {type: none}\nalerts: {temp_threshold: 4}\n")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) { got <- c }) //nolint:errcheck

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "forwarder: {type: none}\nalerts: {temp_threshold: 6}\n")

	select {
	case c := <-got:
		if c.Alerts.TempThreshold != 6 {
			t.Errorf("reloaded temp_threshold: got %v, want 6", c.Alerts.TempThreshold)
		}
	case <-ctx.Done():
		t.Fatal("Watch did not report the change")
	}
}

func TestWatch_IgnoresNonAlertChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "forwarder: {type: none}\nalerts: {temp_threshold: 4}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) { got <- c }) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "forwarder: {type: none}\nhttp: {port: 9999}\nalerts: {temp_threshold: 4, history_size: 5}\n")
	writeFile(t, filepath.Join(dir, "other.yaml"), "alerts: {temp_threshold: 1}\n")

	select {
	case c := <-got:
		t.Fatalf("unexpected reload: %+v", c.Alerts)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatch_ReloadsOnChannelChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "forwarder: {type: none}\n")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) { got <- c }) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "forwarder: {type: none}\nalerts:\n  channels:\n    door: [{type: log}]\n")

	select {
	case c := <-got:
		if n := len(c.Alerts.Channels[ChannelDoor]); n != 1 {
			t.Errorf("door targets after reload: got %d, want 1", n)
		}
	case <-ctx.Done():
		t.Fatal("Watch did not report the channel change")
	}
}

func TestWatch_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if err := Watch(context.Background(), path, func(*Config) {}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	return Load(path)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
}
