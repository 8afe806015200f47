// Package relay mirrors room push events to Redis so processes outside this
// one (playback workers, audit consumers) can follow approvals and messages.
// Live fan-out to connected members never depends on it.
package relay

import (
	"context"

	"github.com/redis/go-redis/v9"

	"go-audiochat/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
	Close() error
}

// Noop is used when no Redis address is configured.
type Noop struct{}

func (Noop) Publish(context.Context, domain.Event) error { return nil }
func (Noop) Close() error                                { return nil }

type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "audiochat"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel is the Redis channel carrying events of one room.
func (p *RedisPublisher) Channel(roomID string) string {
	return p.prefix + ":room:" + roomID
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.Channel(ev.RoomID), payload).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
