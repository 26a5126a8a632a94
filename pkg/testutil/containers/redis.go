//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"dossier/internal/platform/config"
	platformredis "dossier/internal/platform/redis"
)

// RedisContainer wraps a testcontainers Redis instance used by the queue and
// lock suites.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts Redis and connects through the platform client.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := platformredis.New(connectCtx, config.Redis{URL: url, PoolSize: 20})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to redis: %v", err)
	}

	// Cleanup is left to Ryuk; the container is shared across suites.
	return &RedisContainer{Container: container, URL: url, Client: client.Client}
}

// FlushAll empties the database between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
