package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the list holding pending entries.
const DefaultKey = "dossier:queue"

// RedisQueue is a Redis list used as a FIFO: producers LPUSH, consumers RPOP.
// RPOP is atomic, so concurrent workers never receive the same entry.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithKey overrides the list key.
func WithKey(key string) RedisOption {
	return func(q *RedisQueue) {
		if key != "" {
			q.key = key
		}
	}
}

// NewRedis constructs a Redis-backed queue.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{client: client, key: DefaultKey}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, entry Entry) error {
	raw, err := encode(entry)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Entry, bool, error) {
	raw, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("dequeue: %w", err)
	}
	entry, err := decode(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Len returns the number of pending entries.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
