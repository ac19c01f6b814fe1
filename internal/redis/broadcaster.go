package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/donation-scheduling/internal/events"
)

// Broadcaster publishes scheduler events on a Redis Pub/Sub channel.
// Pub/Sub does not persist messages; subscribers that are offline miss them.
type Broadcaster struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

func NewBroadcaster(client *redis.Client, channel string) *Broadcaster {
	return &Broadcaster{client: client, channel: channel, now: time.Now}
}

func (b *Broadcaster) Publish(ctx context.Context, eventType string, payload any) error {
	data, err := events.Encode(eventType, payload, b.now())
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
