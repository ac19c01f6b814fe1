// Package requestctx carries caller metadata set by the HTTP layer into the
// scheduling core. Authentication happens upstream; these values are trusted.
package requestctx

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorIDKey   contextKey = "actor_id"
	channelKey   contextKey = "booking_channel"
)

// DefaultChannel tags bookings whose caller did not say where they came from.
const DefaultChannel = "api"

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID retrieves the request ID from context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actorIDKey, id)
}

// ActorID is the staff or system identity performing the operation.
// Empty when the caller is anonymous.
func ActorID(ctx context.Context) string {
	if id, ok := ctx.Value(actorIDKey).(string); ok {
		return id
	}
	return ""
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// Channel returns the booking channel, falling back to DefaultChannel.
func Channel(ctx context.Context) string {
	if ch, ok := ctx.Value(channelKey).(string); ok && ch != "" {
		return ch
	}
	return DefaultChannel
}
