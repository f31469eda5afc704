package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultTempThreshold      = 8.0
	DefaultGForceThreshold    = 2.5
	DefaultConsecutiveEvents  = 3
	DefaultCooldownSeconds    = 60
	DefaultNotifyTimeout      = 10 * time.Second
	DefaultMaxRetries         = 3
	DefaultBackoffBase        = 2.0
	DefaultBackoffUnit        = time.Second
	DefaultMaxBackoff         = time.Minute
	DefaultRequestTimeout     = 10 * time.Second
	DefaultBufferSize         = 1000
	DefaultHTTPPort           = 8080
	DefaultLatestTTL          = 30 * time.Minute
	DefaultMQTTTopic          = "greendelivery/packages/+"
	DefaultRedisStream        = "coldchain:telemetry"
	DefaultRedisAlertPrefix   = "coldchain:alerts"
	DefaultPostgresTable      = "telemetry_raw"
	DefaultBroadcastInterval  = 5 * time.Second
	DefaultAlertHistoryLength = 200
)

// Destination channel names used by the alert dispatcher.
const (
	ChannelTemperature = "temperature"
	ChannelDoor        = "door"
)

// Config is the full processor configuration tree.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Alerts    AlertsConfig    `yaml:"alerts"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Source    SourceConfig    `yaml:"source"`
	HTTP      HTTPConfig      `yaml:"http"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`

	// StrictInvariants makes a broken per-package invariant panic instead of
	// being logged and repaired. Meant for development and tests.
	StrictInvariants bool `yaml:"strict_invariants"`
}

// AlertsConfig holds thresholds and notification settings.
type AlertsConfig struct {
	// TempThreshold is the maximum allowed cargo temperature in °C.
	TempThreshold float64 `yaml:"temp_threshold"`

	// GForceThreshold is the shock level above which a tick counts as bad.
	GForceThreshold float64 `yaml:"g_force_threshold"`

	// ConsecutiveEventsThreshold is how many bad ticks in a row raise a
	// sustained alert.
	ConsecutiveEventsThreshold int `yaml:"consecutive_events_threshold"`

	// RecoveryDelta lowers the recovery point of a latched temperature alert
	// to TempThreshold - RecoveryDelta. Zero disables hysteresis.
	RecoveryDelta float64 `yaml:"recovery_delta"`

	// CooldownSeconds is the minimum gap between two notifications of the
	// same kind for the same package.
	CooldownSeconds int `yaml:"cooldown_seconds"`

	// SendRecoveryNotifications enables "back to normal" messages.
	SendRecoveryNotifications bool `yaml:"send_recovery_notifications"`

	// NotifyTimeout bounds a single notification delivery.
	NotifyTimeout time.Duration `yaml:"notify_timeout"`

	// HistorySize is the number of recent alerts kept for the API.
	HistorySize int `yaml:"history_size"`

	// Channels maps a destination channel (temperature | door) to its targets.
	Channels map[string][]TargetConfig `yaml:"channels"`
}

// Cooldown returns CooldownSeconds as a duration.
func (a AlertsConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

// TargetConfig defines one notification delivery target.
type TargetConfig struct {
	// Type is one of: discord | slack | teams | http | redis | log.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (t TargetConfig) URL() string {
	if t.URLEnv == "" {
		return ""
	}
	return os.Getenv(t.URLEnv)
}

// ForwarderConfig controls delivery of raw records to the ingestion store.
type ForwarderConfig struct {
	// Type is one of: http | redis | postgres | none.
	Type string `yaml:"type"`

	// Endpoint is the ingestion URL used when Type == "http".
	Endpoint string `yaml:"endpoint"`

	// KeyEnv optionally names an env var whose value is sent as a bearer token.
	KeyEnv string `yaml:"key_env"`

	// MaxRetries is the total number of submission attempts per record.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is raised to the attempt number to get the wait in BackoffUnit.
	BackoffBase float64 `yaml:"backoff_base"`

	// BackoffUnit is the time unit of the backoff wait.
	BackoffUnit time.Duration `yaml:"backoff_unit"`

	// MaxBackoff caps a single backoff wait.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// RequestTimeout bounds a single submission attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Key returns the ingestion bearer token resolved from the environment.
func (f ForwarderConfig) Key() string {
	if f.KeyEnv == "" {
		return ""
	}
	return os.Getenv(f.KeyEnv)
}

// SourceConfig configures where telemetry comes from.
type SourceConfig struct {
	// BufferSize is the capacity of the channel between the source adapters
	// and the processor loop.
	BufferSize int `yaml:"buffer_size"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the MQTT subscription. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Topic       string `yaml:"topic"`
	ClientID    string `yaml:"client_id"`
	QoS         byte   `yaml:"qos"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the MQTT password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Port int `yaml:"port"`

	// LatestTTL is how long a package stays listed after its last record.
	LatestTTL time.Duration `yaml:"latest_ttl"`

	// BroadcastInterval controls the WebSocket package snapshot cadence.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls API key authentication on /api/ routes.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header defaults to "X-API-Key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// RedisConfig is shared by the redis ingestion store and redis notifier.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Stream      string `yaml:"stream"`
	AlertPrefix string `yaml:"alert_prefix"`
}

// Password returns the redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// PostgresConfig is used by the postgres ingestion store.
type PostgresConfig struct {
	DSNEnv string `yaml:"dsn_env"`
	Table  string `yaml:"table"`
}

// DSN returns the connection string resolved from the environment.
func (p PostgresConfig) DSN() string {
	if p.DSNEnv == "" {
		return ""
	}
	return os.Getenv(p.DSNEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Alerts: AlertsConfig{
			TempThreshold:              DefaultTempThreshold,
			GForceThreshold:            DefaultGForceThreshold,
			ConsecutiveEventsThreshold: DefaultConsecutiveEvents,
			CooldownSeconds:            DefaultCooldownSeconds,
			NotifyTimeout:              DefaultNotifyTimeout,
			HistorySize:                DefaultAlertHistoryLength,
		},
		Forwarder: ForwarderConfig{
			Type:           "http",
			MaxRetries:     DefaultMaxRetries,
			BackoffBase:    DefaultBackoffBase,
			BackoffUnit:    DefaultBackoffUnit,
			MaxBackoff:     DefaultMaxBackoff,
			RequestTimeout: DefaultRequestTimeout,
		},
		Source: SourceConfig{
			BufferSize: DefaultBufferSize,
			MQTT: MQTTConfig{
				Topic:    DefaultMQTTTopic,
				ClientID: "coldchain-processor",
				QoS:      1,
			},
		},
		HTTP: HTTPConfig{
			Port:              DefaultHTTPPort,
			LatestTTL:         DefaultLatestTTL,
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Redis: RedisConfig{
			Stream:      DefaultRedisStream,
			AlertPrefix: DefaultRedisAlertPrefix,
		},
		Postgres: PostgresConfig{
			Table: DefaultPostgresTable,
		},
	}
}

// validate checks ranges, required fields and enums.
func validate(cfg *Config) error {
	a := cfg.Alerts
	if a.ConsecutiveEventsThreshold < 1 {
		return fmt.Errorf("alerts.consecutive_events_threshold must be >= 1")
	}
	if a.CooldownSeconds < 0 {
		return fmt.Errorf("alerts.cooldown_seconds must not be negative")
	}
	if a.RecoveryDelta < 0 {
		return fmt.Errorf("alerts.recovery_delta must not be negative")
	}
	if a.NotifyTimeout <= 0 {
		return fmt.Errorf("alerts.notify_timeout must be positive")
	}
	if a.HistorySize <= 0 {
		return fmt.Errorf("alerts.history_size must be positive")
	}
	for ch, targets := range a.Channels {
		switch ch {
		case ChannelTemperature, ChannelDoor:
		default:
			return fmt.Errorf("alerts.channels: unknown channel %q: want temperature|door", ch)
		}
		for i, tg := range targets {
			switch tg.Type {
			case "discord", "slack", "teams", "http":
				if tg.URLEnv == "" {
					return fmt.Errorf("alerts.channels.%s[%d]: url_env is required for type %q", ch, i, tg.Type)
				}
			case "redis":
				if cfg.Redis.Addr == "" {
					return fmt.Errorf("alerts.channels.%s[%d]: redis target needs redis.addr", ch, i)
				}
			case "log":
			default:
				return fmt.Errorf("alerts.channels.%s[%d]: unknown type %q", ch, i, tg.Type)
			}
		}
	}

	f := cfg.Forwarder
	switch f.Type {
	case "http":
		if f.Endpoint == "" {
			return fmt.Errorf("forwarder.endpoint is required for type http")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("forwarder type redis needs redis.addr")
		}
	case "postgres":
		if cfg.Postgres.DSNEnv == "" {
			return fmt.Errorf("forwarder type postgres needs postgres.dsn_env")
		}
	case "none":
	default:
		return fmt.Errorf("forwarder.type %q unknown: want http|redis|postgres|none", f.Type)
	}
	if f.MaxRetries < 1 {
		return fmt.Errorf("forwarder.max_retries must be >= 1")
	}
	if f.BackoffBase < 1 {
		return fmt.Errorf("forwarder.backoff_base must be >= 1")
	}
	if f.BackoffUnit <= 0 {
		return fmt.Errorf("forwarder.backoff_unit must be positive")
	}
	if f.MaxBackoff <= 0 {
		return fmt.Errorf("forwarder.max_backoff must be positive")
	}
	if f.RequestTimeout <= 0 {
		return fmt.Errorf("forwarder.request_timeout must be positive")
	}

	if cfg.Source.BufferSize <= 0 {
		return fmt.Errorf("source.buffer_size must be positive")
	}
	if cfg.Source.MQTT.QoS > 2 {
		return fmt.Errorf("source.mqtt.qos %d out of range [0, 2]", cfg.Source.MQTT.QoS)
	}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range [1, 65535]", cfg.HTTP.Port)
	}
	if cfg.HTTP.LatestTTL <= 0 {
		return fmt.Errorf("http.latest_ttl must be positive")
	}
	if cfg.HTTP.BroadcastInterval <= 0 {
		return fmt.Errorf("http.broadcast_interval must be positive")
	}
	switch cfg.HTTP.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("http.auth.mode %q unknown: want apikey|none", cfg.HTTP.Auth.Mode)
	}
	return nil
}
