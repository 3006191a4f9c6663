// Package cache stores synchronous scrape results in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/places-scraper/internal/metrics"
	"github.com/JakeFAU/places-scraper/internal/scrape"
)

// RedisCache implements scrape.ResultCache on a Redis client.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps client. Entries expire after ttl.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be > 0")
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Key derives the cache key for a query and its run parameters. Query case
// and surrounding whitespace do not matter.
func Key(prefix, query string, params scrape.RunParams) string {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	key := fmt.Sprintf("results:%d:%d:%s", params.MaxResults, params.Workers, q)
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// Get returns the cached records, reporting false on a miss.
func (c *RedisCache) Get(ctx context.Context, query string, params scrape.RunParams) ([]scrape.Record, bool, error) {
	data, err := c.client.Get(ctx, Key(c.prefix, query, params)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.ObserveCache(metrics.CacheMiss)
			return nil, false, nil
		}
		metrics.ObserveCache(metrics.CacheError)
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var records []scrape.Record
	if err := json.Unmarshal(data, &records); err != nil {
		metrics.ObserveCache(metrics.CacheError)
		return nil, false, fmt.Errorf("decode cached records: %w", err)
	}
	metrics.ObserveCache(metrics.CacheHit)
	return records, true, nil
}

// Set stores records under the key for query and params.
func (c *RedisCache) Set(ctx context.Context, query string, params scrape.RunParams, records []scrape.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := c.client.Set(ctx, Key(c.prefix, query, params), data, c.ttl).Err(); err != nil {
		metrics.ObserveCache(metrics.CacheError)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
