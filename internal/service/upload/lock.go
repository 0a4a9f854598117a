package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Locker guards a destination path across processes that share storage.
type Locker interface {
	// Acquire returns ErrDestinationBusy when the key is held elsewhere.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const releaseTimeout = 3 * time.Second

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only while it still holds our token.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. A held lock is refreshed
// every ttl/3 until released, so the ttl only bounds a crashed holder.
type RedisLocker struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisLocker returns a locker storing keys under prefix. The ttl bounds
// how long a crashed holder can block a path.
func NewRedisLocker(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// Acquire claims key for this process.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, ErrDestinationBusy
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.keepAlive(renewCtx, redisKey, token)
	}()

	return func() {
		stopRenew()
		<-renewed

		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		// A failed release leaves the key to expire after ttl.
		_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
	}, nil
}

// keepAlive pushes the expiry of redisKey forward until ctx ends or the key
// no longer carries token.
func (l *RedisLocker) keepAlive(ctx context.Context, redisKey, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
			held, err := renewScript.Run(renewCtx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				// Expired or taken over; nothing left to protect.
				return
			}
		}
	}
}
