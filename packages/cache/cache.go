// Package cache keeps finished search responses in Redis.
//
// Keys embed a generation counter. Bumping the generation after an index
// change makes every earlier entry unreachable; the stale keys then expire
// on their own TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
	"sitesearch/packages/search"
)

const (
	keyPrefix     = "sitesearch:search:"
	generationKey = "sitesearch:generation"
)

type Cache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", addr, err)
	}
	slog.Info("Search cache connected", "addr", addr, "db", db, "ttl", ttl)
	return NewWithClient(rdb, ttl), nil
}

func NewWithClient(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Key derives the cache key of a normalized query under one generation.
func Key(generation int64, q search.Query) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%d", q.Text, q.Site, q.Offset, q.Limit)))
	return keyPrefix + strconv.FormatInt(generation, 10) + ":" + hex.EncodeToString(sum[:])
}

func (c *Cache) generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns a cached response. On a miss it returns the key a freshly
// computed response must be stored under, bound to the generation read here,
// so a response computed across an Invalidate lands in the dead generation.
// The key is empty when Redis is unusable.
func (c *Cache) Get(ctx context.Context, q search.Query) (*domain.SearchResponse, string, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		metrics.SearchCacheRequests.WithLabelValues("error").Inc()
		slog.Warn("Search cache generation lookup failed", "error", err)
		return nil, "", false
	}
	key := Key(gen, q)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.SearchCacheRequests.WithLabelValues("miss").Inc()
		return nil, key, false
	}
	if err != nil {
		metrics.SearchCacheRequests.WithLabelValues("error").Inc()
		slog.Warn("Search cache lookup failed", "error", err)
		return nil, "", false
	}

	var resp domain.SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.SearchCacheRequests.WithLabelValues("error").Inc()
		slog.Warn("Discarding undecodable search cache entry", "error", err)
		return nil, key, false
	}
	metrics.SearchCacheRequests.WithLabelValues("hit").Inc()
	return &resp, key, true
}

// Set stores resp under a key returned by Get.
func (c *Cache) Set(ctx context.Context, key string, resp *domain.SearchResponse) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("Unable to encode search response for cache", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Warn("Search cache store failed", "error", err)
	}
}

// Invalidate starts a new generation, hiding every cached response.
func (c *Cache) Invalidate(ctx context.Context) error {
	gen, err := c.rdb.Incr(ctx, generationKey).Result()
	if err != nil {
		return fmt.Errorf("bump search cache generation: %w", err)
	}
	slog.Debug("Search cache invalidated", "generation", gen)
	return nil
}
