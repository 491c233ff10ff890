// Package dashboard computes the §4.8 dashboard aggregation and caches it
// for the v0 compatibility façade, bounded by DASHBOARD_UPDATE_INTERVAL
// (1 second). The v1 endpoint always computes fresh and never touches this
// cache.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/r3e-network/rebuildverify/internal/store"
)

// UpdateInterval is the default cache TTL (spec.md §5:
// "DASHBOARD_UPDATE_INTERVAL (1 second)").
const UpdateInterval = 1 * time.Second

// Source computes fresh DashboardCounts, satisfied by *store.Store.
type Source interface {
	Dashboard(ctx context.Context, origin store.OriginFilter) (*store.DashboardCounts, error)
}

// Cache serves DashboardCounts bounded-stale by UpdateInterval. When a Redis
// client is configured it is the primary cache (so multiple coordinator
// processes behind a load balancer share one aggregation); otherwise an
// in-process entry with the same TTL semantics is used, matching the
// teacher's in-memory cache fallback shape.
type Cache struct {
	source Source
	ttl    time.Duration
	redis  *redis.Client

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	counts    *store.DashboardCounts
	expiresAt time.Time
}

// New builds a Cache. rdb may be nil, in which case the in-process fallback
// is used exclusively.
func New(source Source, rdb *redis.Client) *Cache {
	return &Cache{
		source:  source,
		ttl:     UpdateInterval,
		redis:   rdb,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns DashboardCounts for origin, serving a cached value up to ttl
// old before recomputing.
func (c *Cache) Get(ctx context.Context, origin store.OriginFilter) (*store.DashboardCounts, error) {
	key := cacheKey(origin)

	if c.redis != nil {
		if counts, ok := c.getRedis(ctx, key); ok {
			return counts, nil
		}
	} else if counts, ok := c.getLocal(key); ok {
		return counts, nil
	}

	counts, err := c.source.Dashboard(ctx, origin)
	if err != nil {
		return nil, err
	}

	if c.redis != nil {
		c.setRedis(ctx, key, counts)
	} else {
		c.setLocal(key, counts)
	}
	return counts, nil
}

func (c *Cache) getLocal(key string) (*store.DashboardCounts, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.counts, true
}

func (c *Cache) setLocal(key string, counts *store.DashboardCounts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{counts: counts, expiresAt: time.Now().Add(c.ttl)}
}

func (c *Cache) getRedis(ctx context.Context, key string) (*store.DashboardCounts, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var counts store.DashboardCounts
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, false
	}
	return &counts, true
}

func (c *Cache) setRedis(ctx context.Context, key string, counts *store.DashboardCounts) {
	data, err := json.Marshal(counts)
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, data, c.ttl)
}

func cacheKey(origin store.OriginFilter) string {
	return fmt.Sprintf("dashboard:%s:%s:%s:%s",
		derefOr(origin.Distribution, "*"), derefOr(origin.Release, "*"),
		derefOr(origin.Component, "*"), derefOr(origin.Architecture, "*"))
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
