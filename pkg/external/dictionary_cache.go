package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hla-match-prediction/internal/domain"
)

// ResolutionCache stores dictionary resolutions across requests. Data for a
// given nomenclature version never changes, so entries only expire to bound
// memory.
type ResolutionCache interface {
	Get(ctx context.Context, locus domain.Locus, typing, version string) ([]string, bool, error)
	Set(ctx context.Context, locus domain.Locus, typing, version string, values []string) error
}

// RedisResolutionCache keeps dictionary resolutions in Redis
type RedisResolutionCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// cachedResolution is the stored JSON document
type cachedResolution struct {
	Values   []string  `json:"values"`
	CachedAt time.Time `json:"cached_at"`
}

// NewRedisResolutionCache connects to Redis and verifies the connection
func NewRedisResolutionCache(config domain.CacheConfig) (*RedisResolutionCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisResolutionCache{redis: client, defaultTTL: config.DefaultTTL}, nil
}

// Get returns a cached resolution. A miss is (nil, false, nil).
func (c *RedisResolutionCache) Get(ctx context.Context, locus domain.Locus, typing, version string) ([]string, bool, error) {
	key := resolutionKey(locus, typing, version)
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get dictionary cache: %w", err)
	}

	var cached cachedResolution
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}
	return cached.Values, true, nil
}

// Set stores a resolution with the default TTL; zero TTL keeps it forever
func (c *RedisResolutionCache) Set(ctx context.Context, locus domain.Locus, typing, version string, values []string) error {
	data, err := json.Marshal(cachedResolution{Values: values, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal dictionary cache data: %w", err)
	}
	return c.redis.Set(ctx, resolutionKey(locus, typing, version), data, c.defaultTTL).Err()
}

// Ping checks connectivity
func (c *RedisResolutionCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisResolutionCache) Close() error {
	return c.redis.Close()
}

func resolutionKey(locus domain.Locus, typing, version string) string {
	return fmt.Sprintf("hla:dictionary:%s:%s:%s", version, locus, typing)
}
