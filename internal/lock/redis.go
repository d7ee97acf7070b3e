// Package lock provides a Redis-backed mutual exclusion for batch runs that
// may be started by more than one worker at a time.
//
// Acquire is SET key token NX PX ttl; release deletes the key only while it
// still holds our token, so a run that outlived its TTL never frees a lock
// taken over by someone else.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "wellbooks:lock:"

var ErrNotHeld = errors.New("lock not held")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLocker hands out named locks with a fixed time to live.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TryAcquire takes the lock named key without waiting. When acquired is true
// the caller must call release once done.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error) {
	fullKey := keyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	slog.DebugContext(ctx, "Acquired lock", "key", fullKey, "ttl", l.ttl)
	return func(ctx context.Context) error {
		return l.release(ctx, fullKey, token)
	}, true, nil
}

func (l *RedisLocker) release(ctx context.Context, fullKey, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{fullKey}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", fullKey, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", fullKey, ErrNotHeld)
	}
	return nil
}
