package broadcast

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/donation-scheduling/internal/config"
	redisclient "github.com/hackgods/donation-scheduling/internal/redis"
)

func TestNew_None(t *testing.T) {
	pub, closeFn, err := New(config.Config{BroadcastDriver: config.BroadcastNone}, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, pub)
	assert.NoError(t, pub.Publish(context.Background(), "appointment_created", nil))
	assert.NoError(t, closeFn())
}

func TestNew_Redis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	pub, _, err := New(config.Config{BroadcastDriver: config.BroadcastRedis, EventsChannel: "c"}, rdb)
	require.NoError(t, err)
	assert.IsType(t, &redisclient.Broadcaster{}, pub)

	_, _, err = New(config.Config{BroadcastDriver: config.BroadcastRedis}, nil)
	assert.Error(t, err)
}

func TestNew_Unknown(t *testing.T) {
	_, _, err := New(config.Config{BroadcastDriver: "kafka"}, nil)
	assert.ErrorContains(t, err, "kafka")
}
