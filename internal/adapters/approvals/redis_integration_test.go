package approvals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	redisadapter "riskstream/internal/adapters/redis"
	"riskstream/internal/testsupport"
	"riskstream/pkg/logger"
)

func TestRedisStoreRoundTripAgainstRedis(t *testing.T) {
	rdb := testsupport.NewRedisClient(t, testsupport.LoadRedisConfigFromEnv(t))
	store := NewRedisStore(redisadapter.NewFromRedis(rdb), logger.Nop())
	ctx := context.Background()

	assert.Empty(t, store.Load(ctx))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	Remember(ctx, store, "scn-1", "abc123", now)
	Remember(ctx, store, "scn-2", "def456", now.Add(time.Minute))

	got := store.Load(ctx)
	assert.Len(t, got, 2)
	assert.Equal(t, "abc123", got["scn-1"].ApprovalHash)
	assert.True(t, now.Equal(got["scn-1"].ApprovedAt))
}
