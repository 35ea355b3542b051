// Package cache is a read-through cache over the broker key-value surface.
//
// Values are stored as JSON. A miss and an undecodable entry look the same
// to callers: both are "absent", and the caller recomputes. Invalidation is
// explicit; writers that change a cached read call Delete for every key
// they affect.
package cache

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-presence-backend/internal/broker"
)

// RecommendedUsersTTL is the default lifetime of recommended_users entries.
const RecommendedUsersTTL = 60 * time.Second

// RecommendedUsersKey is the cache key of userID's recommendation list.
func RecommendedUsersKey(userID string) string {
	return "recommended_users:" + userID
}

// Cache wraps a broker.KeyValue with JSON encoding.
type Cache struct {
	kv  broker.KeyValue
	log zerolog.Logger
}

// New returns a Cache over kv.
func New(kv broker.KeyValue) *Cache {
	return &Cache{kv: kv, log: log.With().Str("component", "cache").Logger()}
}

// Get decodes the entry at key into dst. It reports false when the entry is
// missing, expired, unreadable, or the broker is down. Unreadable entries
// are deleted.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	raw, ok := c.kv.CacheGet(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("discarding malformed cache entry")
		c.kv.CacheDelete(ctx, key)
		return false
	}
	return true
}

// Set stores v at key for ttl.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("encode cache entry")
		return false
	}
	return c.kv.CacheSet(ctx, key, raw, ttl)
}

// Delete removes every key. It reports whether all deletes succeeded.
func (c *Cache) Delete(ctx context.Context, keys ...string) bool {
	ok := true
	for _, k := range keys {
		if !c.kv.CacheDelete(ctx, k) {
			c.log.Debug().Str("key", k).Msg("cache delete failed")
			ok = false
		}
	}
	return ok
}

// GetOrLoad returns the cached value at key, or calls load, caches its
// result for ttl and returns it. Errors from load are returned unchanged
// and nothing is cached.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c.Get(ctx, key, &v) {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(ctx, key, v, ttl)
	return v, nil
}
