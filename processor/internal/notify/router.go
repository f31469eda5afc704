package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/greendelivery/coldchain/processor/internal/alerts"
	"github.com/greendelivery/coldchain/processor/internal/config"
)

// Target is one delivery destination.
type Target interface {
	Send(ctx context.Context, a alerts.Alert) error
	Name() string
}

// Router fans an alert out to every target of its channel.
// A channel with no targets falls back to the log. Routes can be swapped
// at runtime with Replace.
type Router struct {
	mu       sync.RWMutex
	routes   map[string][]Target
	fallback Target
}

// NewRouter builds a Router from explicit routes. Used by tests and by New.
func NewRouter(routes map[string][]Target) *Router {
	return &Router{routes: routes, fallback: Log{}}
}

// New builds the Router described by cfg. rdb may be nil when no redis
// target is configured. Webhook targets whose URL env var is unset are
// skipped with a warning.
func New(cfg config.AlertsConfig, rdb *redis.Client, alertPrefix string) (*Router, error) {
	client := &http.Client{Timeout: cfg.NotifyTimeout}
	routes := make(map[string][]Target, len(cfg.Channels))

	for ch, targets := range cfg.Channels {
		for _, tc := range targets {
			switch tc.Type {
			case "discord", "slack", "teams", "http":
				url := tc.URL()
				if url == "" {
					slog.Warn("notify: webhook url not set, skipping target",
						"channel", ch, "type", tc.Type, "env", tc.URLEnv)
					continue
				}
				routes[ch] = append(routes[ch], NewWebhook(tc.Type, url, client))
			case "redis":
				if rdb == nil {
					return nil, fmt.Errorf("notify: channel %s: redis target without redis client", ch)
				}
				routes[ch] = append(routes[ch], NewRedis(rdb, alertPrefix))
			case "log":
				routes[ch] = append(routes[ch], Log{})
			default:
				return nil, fmt.Errorf("notify: channel %s: unknown target type %q", ch, tc.Type)
			}
		}
	}
	return NewRouter(routes), nil
}

// Notify sends a to every target routed for a.Channel. All targets are tried;
// their errors are joined.
func (r *Router) Notify(ctx context.Context, a alerts.Alert) error {
	r.mu.RLock()
	targets := r.routes[a.Channel]
	r.mu.RUnlock()
	if len(targets) == 0 {
		return r.fallback.Send(ctx, a)
	}

	var errs []error
	for _, t := range targets {
		if err := t.Send(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		slog.Debug("notify: delivered",
			"target", t.Name(),
			"channel", a.Channel,
			"package", a.PackageID,
			"state", a.State,
		)
	}
	return errors.Join(errs...)
}

// Targets returns the number of targets routed for channel.
func (r *Router) Targets(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes[channel])
}

// Replace takes over the routes of next. Sends already in progress finish
// on the old targets.
func (r *Router) Replace(next *Router) {
	next.mu.RLock()
	routes := next.routes
	next.mu.RUnlock()

	r.mu.Lock()
	r.routes = routes
	r.mu.Unlock()
	slog.Info("notify: routes replaced",
		"temperature_targets", len(routes[config.ChannelTemperature]),
		"door_targets", len(routes[config.ChannelDoor]))
}

// Log writes alerts to the structured log only.
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Send(_ context.Context, a alerts.Alert) error {
	slog.Warn("notify: alert",
		"channel", a.Channel,
		"package", a.PackageID,
		"state", a.State,
		"title", a.Title,
		"message", a.Message,
	)
	return nil
}
