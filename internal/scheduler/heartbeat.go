package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const heartbeatKey = "jobrunner:scheduler:heartbeat"

// heartbeatSetter is the slice of *redis.Client the heartbeat uses.
type heartbeatSetter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisHeartbeat keeps a short-lived key fresh while the loop runs. A
// missing key means the scheduler has been silent for longer than the
// TTL; readiness checks read it.
type RedisHeartbeat struct {
	client heartbeatSetter
	ttl    time.Duration
}

func NewRedisHeartbeat(client heartbeatSetter, ttl time.Duration) *RedisHeartbeat {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisHeartbeat{client: client, ttl: ttl}
}

func (h *RedisHeartbeat) Beat(ctx context.Context, at time.Time) error {
	return h.client.Set(ctx, heartbeatKey, at.UTC().Format(time.RFC3339), h.ttl).Err()
}
