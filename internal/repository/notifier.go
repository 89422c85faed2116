package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/xp-ledger/internal/models"
)

// RedisNotifier publishes ledger events on a Redis pub/sub channel for the notification service.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier constructs a notifier bound to channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Notify publishes the event as JSON.
func (n *RedisNotifier) Notify(ctx context.Context, event models.LedgerEvent) error {
	if n.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s on %s: %w", event.ID, n.channel, err)
	}
	return nil
}
