package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dossier/pkg/platform/sentinel"
)

const (
	redisKeyPrefix       = "dossier:lock:"
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never frees a lock someone else has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock (SET NX PX with a random token).
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	clock         quartz.Clock
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets how long a lease survives a crashed holder.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryInterval sets the wait between acquisition attempts.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// WithClock injects the clock used for retry waits.
func WithClock(clock quartz.Clock) RedisOption {
	return func(l *RedisLocker) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewRedis constructs a Redis-backed locker.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:        client,
		ttl:           defaultTTL,
		retryInterval: defaultRetryInterval,
		clock:         quartz.NewReal(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock %s: %w", key, sentinel.ErrLockHeld)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisLease{client: l.client, key: redisKey, token: token}, nil
		}

		timer := l.clock.NewTimer(l.retryInterval, "lock", "retry")
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w", key, sentinel.ErrLockHeld)
		case <-timer.C:
		}
	}
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

// Release frees the lock. It reports sentinel.ErrConflict when the lease had
// already expired.
func (r *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("release lock %s: lease expired: %w", r.key, sentinel.ErrConflict)
	}
	return nil
}
