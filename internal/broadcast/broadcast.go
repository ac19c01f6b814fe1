// Package broadcast picks the realtime event transport configured for the
// process.
package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/donation-scheduling/internal/config"
	"github.com/hackgods/donation-scheduling/internal/mq"
	redisclient "github.com/hackgods/donation-scheduling/internal/redis"
)

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

// New returns the publisher for cfg.BroadcastDriver together with a function
// that releases its resources. rdb is only used by the redis driver.
func New(cfg config.Config, rdb *redis.Client) (Publisher, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.BroadcastDriver {
	case config.BroadcastRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis broadcaster requires a redis client")
		}
		return redisclient.NewBroadcaster(rdb, cfg.EventsChannel), noClose, nil
	case config.BroadcastRabbitMQ:
		pub, err := mq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	case config.BroadcastNone, "":
		return Noop{}, noClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown broadcast driver %q", cfg.BroadcastDriver)
	}
}
