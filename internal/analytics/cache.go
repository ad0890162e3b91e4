package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/marketpulse/transaction-analytics/pkg/config"
	"github.com/marketpulse/transaction-analytics/pkg/metrics"
	pkgredis "github.com/marketpulse/transaction-analytics/pkg/redis"
)

const cacheKeyPrefix = "analytics:"

// ViewCache caches serialized analytics responses in Redis, collapsing
// concurrent recomputes of the same view with singleflight. A nil Redis
// client disables caching and every call computes directly.
type ViewCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewViewCache(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *ViewCache {
	return &ViewCache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "view-cache"),
	}
}

// GetOrCompute returns the cached payload for key, or runs computeFn and
// caches its result. The boolean reports a cache hit.
func (c *ViewCache) GetOrCompute(ctx context.Context, key string, computeFn func() ([]byte, error)) ([]byte, bool, error) {
	if c == nil || c.client == nil {
		data, err := computeFn()
		return data, false, err
	}

	fullKey := cacheKeyPrefix + key
	if data, ok := c.get(ctx, fullKey); ok {
		return data, true, nil
	}
	val, err, _ := c.group.Do(fullKey, func() (interface{}, error) {
		if data, ok := c.get(ctx, fullKey); ok {
			return data, nil
		}
		data, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, fullKey, data)
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]byte), false, nil
}

func (c *ViewCache) get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return []byte(data), true
}

func (c *ViewCache) set(ctx context.Context, key string, data []byte) {
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached analytics view. Called after an ingestion
// run commits new rows.
func (c *ViewCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating view cache: %w", err)
	}
	c.logger.Info("view cache invalidated", "keys_deleted", deleted)
	return nil
}
