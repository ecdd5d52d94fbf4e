package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/persistence"
	"github.com/nfvorch/vimworker/internal/redis"
)

// CachedStore wraps a TaskStore with a Redis cache-aside layer in front of
// GetTask, the resolver's only storage-fallback call. A disabled Client is a
// transparent no-op (see redis.Client.IsEnabled), so wrapping a store with a
// CachedStore is always safe regardless of whether Redis is configured.
type CachedStore struct {
	inner      TaskStore
	cache      *redis.Client
	serializer persistence.Serializer
	ttl        time.Duration
}

// NewCachedStore returns inner wrapped with a cache-aside layer. ttl bounds
// how long a resolved task is trusted before falling back to inner again.
// Cached entries are compact JSON, matching the resolver's own internal
// data model with no extra framing.
func NewCachedStore(inner TaskStore, cache *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{inner: inner, cache: cache, serializer: persistence.NewCompactJSONSerializer(), ttl: ttl}
}

// GetTask checks the cache first; on a miss, or if the cache is disabled or
// returns a corrupt entry, it falls through to inner and repopulates the
// cache with what it found.
func (c *CachedStore) GetTask(ctx context.Context, instanceActionID string, taskIndex int) (*action.Task, error) {
	key := cacheKey(instanceActionID, taskIndex)

	if c.cache != nil && c.cache.IsEnabled() {
		if raw, err := c.cache.Get(ctx, key); err == nil {
			var t action.Task
			if decErr := c.serializer.Deserialize([]byte(raw), &t); decErr == nil {
				return &t, nil
			}
		}
	}

	t, err := c.inner.GetTask(ctx, instanceActionID, taskIndex)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && c.cache.IsEnabled() {
		if raw, encErr := c.serializer.Serialize(t); encErr == nil {
			_ = c.cache.Set(ctx, key, raw, c.ttl)
		}
	}

	return t, nil
}

func cacheKey(instanceActionID string, taskIndex int) string {
	return fmt.Sprintf("vimworker:task:%s:%d", instanceActionID, taskIndex)
}
