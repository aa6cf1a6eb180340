package prices

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"albion-flipper/internal/market"
)

type cacheEntry struct {
	records []market.FeedRecord
	expires time.Time
}

// Cache is a thread-safe TTL cache of batch responses keyed by request URL.
// A singleflight.Group coalesces concurrent fetches of the same batch.
type Cache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewCache creates a cache. ttl <= 0 disables storage; fetches are still coalesced.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// Get returns cached records if present and not expired.
func (c *Cache) Get(key string) ([]market.FeedRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.records, true
}

// Put stores records under key for the cache TTL and drops expired entries.
func (c *Cache) Put(key string, records []market.FeedRecord) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = &cacheEntry{records: records, expires: now.Add(c.ttl)}
}

// Do returns the cached value for key or runs fetch once across concurrent callers.
// The shared fetch runs detached from any single caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (c *Cache) Do(ctx context.Context, key string, fetch func(context.Context) ([]market.FeedRecord, error)) ([]market.FeedRecord, error) {
	if recs, ok := c.Get(key); ok {
		return recs, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if recs, ok := c.Get(key); ok {
			return recs, nil
		}
		recs, err := fetch(shared)
		if err != nil {
			return nil, err
		}
		c.Put(key, recs)
		return recs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Printf("[PRICES] coalesced batch fetch")
		}
		return res.Val.([]market.FeedRecord), nil
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	now := c.now()
	for _, e := range c.entries {
		if !now.After(e.expires) {
			n++
		}
	}
	return n
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	return n
}
