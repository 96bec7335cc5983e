// Package testsupport holds helpers for tests that talk to real infrastructure.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"riskstream/internal/adapters/config"
)

// NewRedisClient connects to the integration Redis and flushes the selected
// database before and after the test.
func NewRedisClient(t *testing.T, cfg config.RedisConfig) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Ping(ctx).Err(), "redis not reachable at %s", cfg.Addr())
	require.NoError(t, client.FlushDB(ctx).Err(), "flush redis before test")

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}
