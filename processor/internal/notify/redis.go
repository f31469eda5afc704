package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/greendelivery/coldchain/processor/internal/alerts"
)

// Redis publishes alerts as JSON on "<prefix>:<channel>".
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a pub/sub target.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Name() string { return "redis" }

// Topic returns the pub/sub channel used for alerts of channel.
func (r *Redis) Topic(channel string) string {
	return r.prefix + ":" + channel
}

func (r *Redis) Send(ctx context.Context, a alerts.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := r.client.Publish(ctx, r.Topic(a.Channel), data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
