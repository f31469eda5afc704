// Package config loads and watches the processor configuration file (config.yaml).
//
// Top-level sections:
//   - alerts: thresholds, cooldown, recovery switch, notification channels
//   - forwarder: ingestion store type, retry budget and backoff
//   - source: MQTT broker subscription and in-process buffer
//   - http: API/WebSocket/metrics listener and optional API key auth
//   - redis, postgres: connection settings shared by stores and notifiers
//
// Load(path) reads the YAML file, applies defaults, then validates ranges and
// enums. Secrets are never stored in the file: *_env fields name the
// environment variable that holds the value.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange when the alerts section of the reloaded file differs. Transport
// settings take effect on restart.
package config
