package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the default Bus realization, built on the same
// github.com/redis/go-redis/v9 client the StateManager uses for storage —
// one Redis connection pool serves both durability and notification.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus wraps client for notification use. prefix should match the
// StateManager's key prefix so channel names stay within one namespace.
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) channel(loopID string) string {
	return fmt.Sprintf("%s:notify:%s", b.prefix, loopID)
}

func (b *RedisBus) Publish(ctx context.Context, loopID string) error {
	if err := b.client.Publish(ctx, b.channel(loopID), "1").Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, loopID string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(loopID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("notify: subscribe: %w", err)
	}
	return &redisSubscription{pubsub: pubsub, ch: pubsub.Channel()}, nil
}

func (b *RedisBus) Close() error { return nil }

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

func (s *redisSubscription) Wait(ctx context.Context, timeout time.Duration) bool {
	select {
	case _, ok := <-s.ch:
		return ok
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *redisSubscription) Close() error { return s.pubsub.Close() }
