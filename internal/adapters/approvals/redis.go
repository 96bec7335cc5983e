package approvals

import (
	"context"
	"time"

	"riskstream/internal/metrics"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

const backendRedis = "redis"

// RedisClient is the subset of the redis adapter used here
type RedisClient interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RedisStore keeps approvals as one JSON value in Redis
type RedisStore struct {
	client RedisClient
	key    string
	log    *logger.Logger
}

// NewRedisStore creates a Redis-backed approval store
func NewRedisStore(client RedisClient, log *logger.Logger) *RedisStore {
	if log == nil {
		log = logger.Get()
	}
	return &RedisStore{
		client: client,
		key:    StorageKey,
		log:    log.Component("approvals_redis"),
	}
}

// Load returns the stored approvals, or an empty map when there are none or they cannot be read
func (s *RedisStore) Load(ctx context.Context) Records {
	records := Records{}
	err := s.client.Get(ctx, s.key, &records)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		metrics.RecordPersistence(backendRedis, "load", nil)
		return Records{}
	case err != nil:
		metrics.RecordPersistence(backendRedis, "load", err)
		s.log.Warnw("Approval cache load failed", "key", s.key, "error", err)
		return Records{}
	}

	metrics.RecordPersistence(backendRedis, "load", nil)
	if records == nil {
		return Records{}
	}
	return records
}

// Save replaces the stored approvals
func (s *RedisStore) Save(ctx context.Context, records Records) {
	err := s.client.Set(ctx, s.key, records, 0)
	metrics.RecordPersistence(backendRedis, "save", err)
	if err != nil {
		s.log.Warnw("Approval cache save failed", "key", s.key, "error", err)
	}
}
