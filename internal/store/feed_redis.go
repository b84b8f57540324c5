package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "gestioncitas:changes:"

// RedisFeed fans change signals out through Redis pub/sub so several server
// processes sharing one database keep their subscriptions live.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed wraps an existing client.
func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// Notify publishes an empty message on the key's channel.
func (f *RedisFeed) Notify(ctx context.Context, key string) error {
	if err := f.client.Publish(ctx, redisChannelPrefix+key, "").Err(); err != nil {
		return fmt.Errorf("publish change %s: %w", key, err)
	}
	return nil
}

// Watch subscribes to the key's channel. The subscription is confirmed before
// returning so that a Notify issued afterwards is never missed.
func (f *RedisFeed) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	pubsub := f.client.Subscribe(ctx, redisChannelPrefix+key)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	out := make(chan struct{}, 1)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
