package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// SystemCache holds registry lookups by system id. An expired entry is
// still served while one caller refreshes it, but only for one more TTL:
// past that the entry is dropped and the next lookup goes to the database,
// so a revoked approval cannot be served from cache indefinitely.
//
// Unknown systems are cached as negative entries with a shorter TTL so a
// newly registered system becomes visible quickly.
type SystemCache struct {
	entries     sync.Map // system id -> *systemCacheEntry
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time
}

type systemCacheEntry struct {
	system     *System // nil for an unregistered system
	freshUntil time.Time
	staleUntil time.Time
	refreshing atomic.Bool
}

// CacheGetResult is the outcome of a lookup. NeedsRefresh is set for
// exactly one caller per expired entry.
type CacheGetResult struct {
	System       *System
	Hit          bool
	NeedsRefresh bool
}

// minNegativeTTL keeps tiny TTLs from disabling negative caching.
const minNegativeTTL = time.Second

func NewSystemCache(ttl time.Duration) *SystemCache {
	neg := ttl / 4
	if neg < minNegativeTTL {
		neg = min(ttl, minNegativeTTL)
	}
	return &SystemCache{ttl: ttl, negativeTTL: neg, now: time.Now}
}

func (c *SystemCache) Get(systemID string) CacheGetResult {
	val, ok := c.entries.Load(systemID)
	if !ok {
		return CacheGetResult{}
	}
	entry := val.(*systemCacheEntry)

	now := c.now()
	switch {
	case now.Before(entry.freshUntil):
		return CacheGetResult{System: entry.system, Hit: true}
	case !now.Before(entry.staleUntil):
		c.entries.CompareAndDelete(systemID, entry)
		return CacheGetResult{}
	}
	return CacheGetResult{
		System:       entry.system,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set caches sys under systemID. A nil sys records that the id is not
// registered.
func (c *SystemCache) Set(systemID string, sys *System) {
	ttl := c.ttl
	if sys == nil {
		ttl = c.negativeTTL
	}
	now := c.now()
	c.entries.Store(systemID, &systemCacheEntry{
		system:     sys,
		freshUntil: now.Add(ttl),
		staleUntil: now.Add(2 * ttl),
	})
}

// Release lets a later Get signal a refresh again after a failed one.
func (c *SystemCache) Release(systemID string) {
	if val, ok := c.entries.Load(systemID); ok {
		val.(*systemCacheEntry).refreshing.Store(false)
	}
}

func (c *SystemCache) Delete(systemID string) {
	c.entries.Delete(systemID)
}
