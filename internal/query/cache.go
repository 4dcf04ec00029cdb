package query

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultCacheTTL        = 300 * time.Second
	DefaultCacheMaxEntries = 1000
)

type CacheEntry struct {
	Rows         []Row
	GeneratedSQL string
	StoredAt     time.Time
}

// ResultCache keeps successful results keyed by the exact question text. An
// entry is served while its age is at most the TTL; an expired entry is only
// dropped when its key is looked up again. Independently of age, the least
// recently used entry is evicted once MaxEntries is exceeded.
type ResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries *simplelru.LRU[string, CacheEntry]
}

func NewResultCache(ttl time.Duration, maxEntries int, clock func() time.Time) (*ResultCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	if clock == nil {
		clock = time.Now
	}
	entries, err := simplelru.NewLRU[string, CacheEntry](maxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &ResultCache{ttl: ttl, clock: clock, entries: entries}, nil
}

// Get returns the entry for key when it is still fresh. A stale entry is
// removed and reported as a miss.
func (c *ResultCache) Get(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		return CacheEntry{}, false
	}
	if c.expired(entry) {
		c.entries.Remove(key)
		return CacheEntry{}, false
	}
	return entry, true
}

// Put stores entry under key, stamping StoredAt when the caller left it zero.
func (c *ResultCache) Put(key string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.StoredAt.IsZero() {
		entry.StoredAt = c.clock()
	}
	c.entries.Add(key, entry)
}

// InvalidateIfExpired removes key when its entry is past the TTL and reports
// whether it did. Recency is left untouched.
func (c *ResultCache) InvalidateIfExpired(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Peek(key)
	if !ok || !c.expired(entry) {
		return false
	}
	return c.entries.Remove(key)
}

// Len counts stored entries, including expired ones not yet looked up.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *ResultCache) expired(entry CacheEntry) bool {
	return c.clock().Sub(entry.StoredAt) > c.ttl
}
