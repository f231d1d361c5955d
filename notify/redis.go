package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedup implements Dedup on a shared Redis, so the suppression
// window holds across processes. SET NX EX is the whole mechanism: the
// first setter within the window wins, the key expires with the TTL.
type RedisDedup struct {
	client *redis.Client
	prefix string
}

func NewRedisDedup(client *redis.Client, prefix string) *RedisDedup {
	if prefix == "" {
		prefix = "washengine:notify:"
	}
	return &RedisDedup{client: client, prefix: prefix}
}

func (d *RedisDedup) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, 1, ttl).Result()
}
