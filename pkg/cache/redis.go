package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "s2:cache:"

// RedisStore implements Store on top of Redis with server-side TTL.
// It is an optional backend for deployments that already run Redis and
// want a response cache shared between processes. Backend errors are
// reported as misses so the client falls through to the upstream API.
type RedisStore struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  redisClient,
		logger: logger.With().Str("component", "redis-cache").Logger(),
	}
}

// Get retrieves the value stored under key. Redis errors and corrupt
// entries are treated as misses.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			cacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Redis get failed")
		}
		cacheMisses.Inc()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, dropping")
		_ = s.redis.Del(ctx, redisKeyPrefix+key).Err()
		cacheMisses.Inc()
		return nil, false
	}

	// Redis expiry should have removed it already, but the clock on the
	// Redis server is not ours.
	if entry.IsExpired() {
		_ = s.redis.Del(ctx, redisKeyPrefix+key).Err()
		cacheMisses.Inc()
		cacheExpirations.Inc()
		return nil, false
	}

	cacheHits.WithLabelValues("redis").Inc()
	return entry.Value, true
}

// Put stores value under key with the given TTL.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	entry := Entry{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		StoredAt:  now,
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Marshal cache entry failed")
		return
	}

	if err := s.redis.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Redis set failed")
	}
}

// Invalidate removes key from Redis.
func (s *RedisStore) Invalidate(ctx context.Context, key string) {
	if err := s.redis.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Redis delete failed")
	}
}
