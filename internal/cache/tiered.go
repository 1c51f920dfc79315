// Package cache implements the two-layer content cache: an in-process fast
// layer over a durable SQLite layer. Writes go through to both layers; the
// durable layer is the source of truth across restarts. Entries expire
// lazily on get and the least-recently-accessed entry is evicted when the
// live count would exceed the configured maximum.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kamishibai/internal/logging"
	"kamishibai/internal/types"
)

// DurableLayer is the persistence contract the tiered cache writes through
// to. *store.Store implements it. Failures degrade the cache to
// fast-layer-only; they never fail a content request.
type DurableLayer interface {
	Get(ctx context.Context, key string) (*types.CacheEntry, error)
	Put(ctx context.Context, entry types.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Touch(ctx context.Context, key string, at time.Time) error
	Count(ctx context.Context) (int, error)
	LeastRecent(ctx context.Context) (string, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
	Clear(ctx context.Context) error
}

// Stats reports cache effectiveness counters.
type Stats struct {
	FastEntries    int   `json:"fast_entries"`
	DurableEntries int   `json:"durable_entries"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Evictions      int64 `json:"evictions"`
}

// TieredCache is safe for concurrent readers and writers across sessions.
type TieredCache struct {
	durable    DurableLayer
	defaultTTL time.Duration
	maxEntries int

	fast   map[string]types.CacheEntry
	fastMu sync.RWMutex

	// keyLocks serializes same-key operations; evictMu serializes the global
	// count/evict/insert step across keys. Lock order is evictMu before any
	// key lock. Get and Delete take only their key lock, so eviction can
	// grab the victim's key lock without a cycle.
	keyLocks sync.Map // string -> *sync.Mutex
	evictMu  sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a tiered cache over the given durable layer.
func New(durable DurableLayer, defaultTTL time.Duration, maxEntries int) *TieredCache {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	if maxEntries < 1 {
		maxEntries = 100
	}
	return &TieredCache{
		durable:    durable,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		fast:       make(map[string]types.CacheEntry),
	}
}

func (c *TieredCache) lockKey(key string) func() {
	muIface, _ := c.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the payload for key, or ok=false on miss. Fast layer first;
// a durable hit backfills the fast layer. An entry past its expiry is
// treated as a miss and removed from both layers. Every hit bumps
// last-accessed in both layers.
func (c *TieredCache) Get(ctx context.Context, key string) (string, bool) {
	unlock := c.lockKey(key)
	defer unlock()

	now := time.Now()

	c.fastMu.RLock()
	entry, ok := c.fast[key]
	c.fastMu.RUnlock()

	if ok {
		if entry.Expired(now) {
			c.removeBothLayers(ctx, key)
			c.misses.Add(1)
			logging.CacheDebug("get %s: expired in fast layer", key)
			return "", false
		}
		entry.LastAccessedAt = now
		c.fastMu.Lock()
		c.fast[key] = entry
		c.fastMu.Unlock()
		if err := c.durable.Touch(ctx, key, now); err != nil {
			logging.Get(logging.CategoryCache).Warn("durable touch degraded: %v", err)
		}
		c.hits.Add(1)
		logging.CacheDebug("get %s: fast hit", key)
		return entry.Payload, true
	}

	durableEntry, err := c.durable.Get(ctx, key)
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("durable get degraded: %v", err)
		c.misses.Add(1)
		return "", false
	}
	if durableEntry == nil {
		c.misses.Add(1)
		return "", false
	}
	if durableEntry.Expired(now) {
		c.removeBothLayers(ctx, key)
		c.misses.Add(1)
		logging.CacheDebug("get %s: expired in durable layer", key)
		return "", false
	}

	// Backfill the fast layer before returning.
	durableEntry.LastAccessedAt = now
	c.fastMu.Lock()
	c.fast[key] = *durableEntry
	c.fastMu.Unlock()
	if err := c.durable.Touch(ctx, key, now); err != nil {
		logging.Get(logging.CategoryCache).Warn("durable touch degraded: %v", err)
	}
	c.hits.Add(1)
	logging.CacheDebug("get %s: durable hit, backfilled", key)
	return durableEntry.Payload, true
}

// Put writes the payload through both layers with the given TTL (<=0 uses
// the default). If the live entry count would exceed the maximum, the single
// least-recently-accessed entry is evicted first.
func (c *TieredCache) Put(ctx context.Context, key, payload string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	// The whole count/evict/insert step, durable write included, runs under
	// evictMu so the decision never races a lagging durable layer.
	c.evictMu.Lock()
	defer c.evictMu.Unlock()
	unlock := c.lockKey(key)
	defer unlock()

	now := time.Now()
	if !c.exists(ctx, key) {
		c.evictIfFull(ctx, key)
	}
	entry := types.CacheEntry{
		Key:            key,
		Payload:        payload,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
	c.fastMu.Lock()
	c.fast[key] = entry
	c.fastMu.Unlock()
	if err := c.durable.Put(ctx, entry); err != nil {
		logging.Get(logging.CategoryCache).Warn("durable put degraded: %v", err)
	}

	logging.CacheDebug("put %s ttl=%v", key, ttl)
}

// exists reports whether a live entry for key is present in either layer.
func (c *TieredCache) exists(ctx context.Context, key string) bool {
	c.fastMu.RLock()
	_, ok := c.fast[key]
	c.fastMu.RUnlock()
	if ok {
		return true
	}
	entry, err := c.durable.Get(ctx, key)
	if err != nil || entry == nil {
		return false
	}
	return true
}

// evictIfFull removes exactly the least-recently-accessed entry when the
// cache is at capacity. Called with evictMu held. It takes the victim's key
// lock before removing, so a get in flight for the victim either finishes
// before the eviction or misses after it; the evicted entry can never be
// written back into the fast layer.
func (c *TieredCache) evictIfFull(ctx context.Context, inserting string) {
	count, err := c.durable.Count(ctx)
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("durable count degraded: %v", err)
		c.fastMu.RLock()
		count = len(c.fast)
		c.fastMu.RUnlock()
	}
	if count < c.maxEntries {
		return
	}

	victim, err := c.durable.LeastRecent(ctx)
	if err != nil || victim == "" {
		if err != nil {
			logging.Get(logging.CategoryCache).Warn("durable least-recent degraded: %v", err)
		}
		victim = c.leastRecentFast()
	}
	if victim == "" || victim == inserting {
		return
	}

	unlockVictim := c.lockKey(victim)
	c.removeBothLayers(ctx, victim)
	unlockVictim()
	c.evictions.Add(1)
	logging.Cache("evicted least-recently-used entry %s", victim)
}

// leastRecentFast scans the fast layer for the oldest last-accessed key.
func (c *TieredCache) leastRecentFast() string {
	c.fastMu.RLock()
	defer c.fastMu.RUnlock()

	oldestKey := ""
	var oldest time.Time
	for key, entry := range c.fast {
		if oldestKey == "" || entry.LastAccessedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.LastAccessedAt
		}
	}
	return oldestKey
}

// removeBothLayers deletes key from fast and durable layers.
func (c *TieredCache) removeBothLayers(ctx context.Context, key string) {
	c.fastMu.Lock()
	delete(c.fast, key)
	c.fastMu.Unlock()
	if err := c.durable.Delete(ctx, key); err != nil {
		logging.Get(logging.CategoryCache).Warn("durable delete degraded: %v", err)
	}
}

// Delete removes the entry for key from both layers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	unlock := c.lockKey(key)
	defer unlock()
	c.removeBothLayers(ctx, key)
}

// Sweep proactively removes expired entries from both layers. Not required
// for correctness; expiry is otherwise lazy on get.
func (c *TieredCache) Sweep(ctx context.Context) int {
	now := time.Now()

	c.fastMu.Lock()
	for key, entry := range c.fast {
		if entry.Expired(now) {
			delete(c.fast, key)
		}
	}
	c.fastMu.Unlock()

	removed, err := c.durable.Sweep(ctx, now)
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("durable sweep degraded: %v", err)
	}
	return removed
}

// Clear empties both layers.
func (c *TieredCache) Clear(ctx context.Context) {
	c.fastMu.Lock()
	c.fast = make(map[string]types.CacheEntry)
	c.fastMu.Unlock()
	if err := c.durable.Clear(ctx); err != nil {
		logging.Get(logging.CategoryCache).Warn("durable clear degraded: %v", err)
	}
	logging.Cache("cache cleared")
}

// Stats returns current cache counters.
func (c *TieredCache) Stats(ctx context.Context) Stats {
	c.fastMu.RLock()
	fastCount := len(c.fast)
	c.fastMu.RUnlock()

	durableCount, err := c.durable.Count(ctx)
	if err != nil {
		durableCount = -1
	}

	return Stats{
		FastEntries:    fastCount,
		DurableEntries: durableCount,
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      c.evictions.Load(),
	}
}
