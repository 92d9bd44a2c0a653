package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisPublisher is the slice of the go-redis client the bus uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisBus forwards lifecycle events onto a Redis pub/sub channel so
// external subscribers can follow job lifecycles without access to the
// database.
type RedisBus struct {
	client  redisPublisher
	channel string
}

func NewRedisBus(client redisPublisher, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Name() string { return "redis-bus" }

func (b *RedisBus) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}
