// Package notify delivers alerts to their destination channel. A Router maps
// each channel (temperature, door) to one or more targets: Discord, Slack or
// Teams webhooks, a generic HTTP endpoint, Redis pub/sub, or the log.
package notify
