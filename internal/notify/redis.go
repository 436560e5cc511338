// internal/notify/redis.go
package notify

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisWindow is the shared dedup window for multi-replica notifiers.
// SET NX with TTL makes marking and checking one atomic operation, so two
// replicas racing on the same event id see exactly one "not seen".
type RedisWindow struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisWindow(addr, prefix string, ttl time.Duration) *RedisWindow {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisWindow{client: rdb, prefix: prefix, ttl: ttl}
}

func (w *RedisWindow) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := w.client.SetNX(ctx, w.prefix+eventID, 1, w.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (w *RedisWindow) Close() error {
	return w.client.Close()
}
