package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("center lock not acquired")
)

// Locker is used by the appointment service to serialize capacity
// check-and-write sequences per center.
type Locker interface {
	WithCenterLock(ctx context.Context, centerID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisCenterLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	maxWait    time.Duration
}

// NewRedisCenterLocker creates a locker that uses a per center Redis key.
// Acquisition is retried for up to maxWait before giving up.
func NewRedisCenterLocker(client *redis.Client, ttl, maxWait time.Duration) Locker {
	return &redisCenterLocker{
		client:     client,
		ttl:        ttl,
		retryDelay: 25 * time.Millisecond,
		maxWait:    maxWait,
	}
}

func centerLockKey(centerID uuid.UUID) string {
	return fmt.Sprintf("lock:center:%s", centerID.String())
}

func (l *redisCenterLocker) WithCenterLock(ctx context.Context, centerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := centerLockKey(centerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// Release on a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisCenterLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.maxWait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire center lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(l.retryDelay).After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisCenterLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release center lock: %w", err)
	}
	return nil
}
