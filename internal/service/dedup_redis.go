package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWebhookDedup claims event ids with SET NX so concurrent deliveries of
// the same event race on one atomic write.
type RedisWebhookDedup struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWebhookDedup(client redis.UniversalClient, prefix string) *RedisWebhookDedup {
	if prefix == "" {
		prefix = "webhook_seen"
	}
	return &RedisWebhookDedup{client: client, prefix: prefix}
}

func (d *RedisWebhookDedup) FirstSight(ctx context.Context, scope, eventID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", d.prefix, scope, eventID)
	ok, err := d.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}
