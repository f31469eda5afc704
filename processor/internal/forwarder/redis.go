package forwarder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/greendelivery/coldchain/pkg/types"
)

// RedisStore appends records to a Redis stream.
type RedisStore struct {
	client *redis.Client
	stream string
}

// NewRedisStore creates a store writing to stream.
func NewRedisStore(client *redis.Client, stream string) *RedisStore {
	return &RedisStore{client: client, stream: stream}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Submit(ctx context.Context, rec *types.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Permanent(fmt.Errorf("encode record: %w", err))
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"package_id": rec.PackageID,
			"ts":         rec.Timestamp,
			"payload":    string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
