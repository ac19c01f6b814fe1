package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ActorID(ctx))
	assert.Equal(t, DefaultChannel, Channel(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithActorID(ctx, "staff-7")
	ctx = WithChannel(ctx, "kiosk")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "staff-7", ActorID(ctx))
	assert.Equal(t, "kiosk", Channel(ctx))
}

func TestChannel_EmptyFallsBack(t *testing.T) {
	ctx := WithChannel(context.Background(), "")
	assert.Equal(t, DefaultChannel, Channel(ctx))
}
