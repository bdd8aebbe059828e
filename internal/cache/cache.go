// Package cache implements the layered LRU+Redis caching tier for
// ChannelThreshold and FitResult lookups, adapted from the teacher's
// pkg/external/cache.go (same Redis wrapper shape, JSON-wrapped cache
// entries with an explicit expiry check on read and self-healing on a
// corrupted entry) fronted by an in-process hashicorp/golang-lru/v2 tier
// for hot lookups within a single analyze call.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// Config carries the Redis connection and pool settings, mirroring the
// teacher's domain.CacheConfig fields.
type Config struct {
	RedisURL   string
	DefaultTTL time.Duration
	PoolSize   int
	MaxRetries int
	LRUSize    int
}

// DefaultConfig is a reasonable production default; LRUSize matches the
// teacher's hot-path cache sizing convention (small, per-run working set).
func DefaultConfig() Config {
	return Config{DefaultTTL: 15 * time.Minute, PoolSize: 10, MaxRetries: 3, LRUSize: 512}
}

// cachedEntry wraps a cached value with the expiry metadata the teacher's
// CachedClinVarData/CachedPopulationData types carry.
type cachedEntry[T any] struct {
	Data      T         `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache fronts Redis with an in-process LRU for ChannelThreshold and
// FitResult lookups.
type Cache struct {
	logger     *logrus.Logger
	redis      *redis.Client
	defaultTTL time.Duration

	thresholdLRU *lru.Cache[string, domain.ChannelThreshold]
	fitLRU       *lru.Cache[string, domain.FitResult]
}

// New constructs a Cache, pinging Redis once to fail fast on
// misconfiguration, exactly as the teacher's NewCacheClient does.
func New(logger *logrus.Logger, cfg Config) (*Cache, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	thresholdLRU, err := lru.New[string, domain.ChannelThreshold](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create threshold lru: %w", err)
	}
	fitLRU, err := lru.New[string, domain.FitResult](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create fit lru: %w", err)
	}

	return &Cache{
		logger:       logger,
		redis:        client,
		defaultTTL:   cfg.DefaultTTL,
		thresholdLRU: thresholdLRU,
		fitLRU:       fitLRU,
	}, nil
}

// thresholdKey includes the strategy ID: a threshold computed under one
// strategy must never be served back for a different strategy (the whole
// point of recompute_thresholds is that the value can change).
func thresholdKey(runID, channel string, scale domain.Scale, strategyID string) string {
	return fmt.Sprintf("threshold:%s:%s:%s:%s", runID, channel, scale, strategyID)
}

func fitKey(runID, wellID, channel string) string {
	return fmt.Sprintf("fit:%s:%s:%s", runID, wellID, channel)
}

// GetThreshold checks the LRU first, then Redis, self-healing a corrupted
// or expired Redis entry by deleting it and reporting a miss.
func (c *Cache) GetThreshold(ctx context.Context, runID, channel string, scale domain.Scale, strategyID string) (domain.ChannelThreshold, bool) {
	key := thresholdKey(runID, channel, scale, strategyID)
	if v, ok := c.thresholdLRU.Get(key); ok {
		return v, true
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return domain.ChannelThreshold{}, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("threshold cache get failed, treating as miss")
		return domain.ChannelThreshold{}, false
	}

	var entry cachedEntry[domain.ChannelThreshold]
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		c.redis.Del(ctx, key)
		return domain.ChannelThreshold{}, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.redis.Del(ctx, key)
		return domain.ChannelThreshold{}, false
	}

	c.thresholdLRU.Add(key, entry.Data)
	return entry.Data, true
}

// SetThreshold writes through to both tiers.
func (c *Cache) SetThreshold(ctx context.Context, runID, channel string, scale domain.Scale, strategyID string, value domain.ChannelThreshold) error {
	key := thresholdKey(runID, channel, scale, strategyID)
	c.thresholdLRU.Add(key, value)

	entry := cachedEntry[domain.ChannelThreshold]{Data: value, CachedAt: time.Now(), ExpiresAt: time.Now().Add(c.defaultTTL)}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal threshold cache entry: %w", err)
	}
	return c.redis.Set(ctx, key, b, c.defaultTTL).Err()
}

// GetFit mirrors GetThreshold for FitResult.
func (c *Cache) GetFit(ctx context.Context, runID, wellID, channel string) (domain.FitResult, bool) {
	key := fitKey(runID, wellID, channel)
	if v, ok := c.fitLRU.Get(key); ok {
		return v, true
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return domain.FitResult{}, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("fit cache get failed, treating as miss")
		return domain.FitResult{}, false
	}

	var entry cachedEntry[domain.FitResult]
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		c.redis.Del(ctx, key)
		return domain.FitResult{}, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.redis.Del(ctx, key)
		return domain.FitResult{}, false
	}

	c.fitLRU.Add(key, entry.Data)
	return entry.Data, true
}

// SetFit mirrors SetThreshold for FitResult.
func (c *Cache) SetFit(ctx context.Context, runID, wellID, channel string, value domain.FitResult) error {
	key := fitKey(runID, wellID, channel)
	c.fitLRU.Add(key, value)

	entry := cachedEntry[domain.FitResult]{Data: value, CachedAt: time.Now(), ExpiresAt: time.Now().Add(c.defaultTTL)}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal fit cache entry: %w", err)
	}
	return c.redis.Set(ctx, key, b, c.defaultTTL).Err()
}

// InvalidateRun drops every cached entry for a run from Redis, used by
// emergency_reset. The LRU tiers are cleared wholesale since they carry no
// per-run index.
func (c *Cache) InvalidateRun(ctx context.Context, runID string) error {
	pattern := fmt.Sprintf("*:%s:*", runID)
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", iter.Val(), err)
		}
	}
	c.thresholdLRU.Purge()
	c.fitLRU.Purge()
	return iter.Err()
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	return c.redis.Close()
}
