package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis. On failure it returns nil and the error so callers can
// continue without a cache.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// ConsolidationCache holds read views of a sector's consolidated totals, keyed by
// (sector, round, kind). A nil client turns every call into a miss or a no-op.
type ConsolidationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewConsolidationCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ConsolidationCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ConsolidationCache{client: client, ttl: ttl, logger: logger}
}

// Key builds the cache key of one view
func Key(sectorCountID, round int, kind string) string {
	return fmt.Sprintf("counts:sector:%d:round:%d:%s", sectorCountID, round, kind)
}

func sectorPattern(sectorCountID int) string {
	return fmt.Sprintf("counts:sector:%d:*", sectorCountID)
}

// Get decodes the cached value into dest and reports whether it was found
func (c *ConsolidationCache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.client == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores value under key; failures are logged and otherwise ignored
func (c *ConsolidationCache) Set(ctx context.Context, key string, value any) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateSector drops every cached view of the sector, across all rounds
func (c *ConsolidationCache) InvalidateSector(ctx context.Context, sectorCountID int) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, sectorPattern(sectorCountID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", zap.Int("sector_count_id", sectorCountID), zap.Error(err))
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("cache invalidate failed", zap.Int("sector_count_id", sectorCountID), zap.Error(err))
		}
	}
}

// Ping reports whether the cache is reachable; a disabled cache is never healthy
func (c *ConsolidationCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache disabled")
	}
	return c.client.Ping(ctx).Err()
}

// Enabled reports whether a Redis client is configured
func (c *ConsolidationCache) Enabled() bool {
	return c != nil && c.client != nil
}
