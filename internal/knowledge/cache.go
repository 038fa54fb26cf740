package knowledge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/frontdesk/internal/matcher"
	"github.com/kalambet/frontdesk/internal/storage"
)

// DefaultCacheTTL is how long a loaded snapshot is served before reloading.
const DefaultCacheTTL = 60 * time.Second

// Source lists knowledge entries, newest first. Implemented by the stores
// and by the HTTP client used by the simulator.
type Source interface {
	ListKnowledge(ctx context.Context, limit, offset int) ([]storage.KnowledgeEntry, error)
}

// Cache is a read-through snapshot of every knowledge entry for callers that
// match questions locally. It refreshes when the TTL lapses or after
// Invalidate; concurrent refreshes are collapsed into one load. When a
// refresh fails and a snapshot exists, the stale snapshot is served.
type Cache struct {
	src    Source
	clock  storage.Clock
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	entries  []storage.KnowledgeEntry
	loadedAt time.Time
	loaded   bool
	stale    bool
}

// NewCache creates a Cache with DefaultCacheTTL.
func NewCache(src Source) *Cache {
	return NewCacheWithClock(src, realClock{}, DefaultCacheTTL)
}

// NewCacheWithClock creates a Cache with a custom clock and TTL (for testing).
// A ttl <= 0 means entries never expire on their own.
func NewCacheWithClock(src Source, clock storage.Clock, ttl time.Duration) *Cache {
	return &Cache{
		src:    src,
		clock:  clock,
		ttl:    ttl,
		logger: slog.Default(),
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (c *Cache) fresh() bool {
	if !c.loaded || c.stale {
		return false
	}
	return c.ttl <= 0 || c.clock.Now().Before(c.loadedAt.Add(c.ttl))
}

// Entries returns the cached snapshot, loading it first if needed. The
// returned slice must not be modified.
func (c *Cache) Entries(ctx context.Context) ([]storage.KnowledgeEntry, error) {
	// Fast path: read lock for cache hit.
	c.mu.RLock()
	if c.fresh() {
		entries := c.entries
		c.mu.RUnlock()
		return entries, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("load", func() (any, error) {
		// Double-check: another caller may have just refreshed.
		c.mu.RLock()
		if c.fresh() {
			entries := c.entries
			c.mu.RUnlock()
			return entries, nil
		}
		c.mu.RUnlock()

		entries, err := loadAll(ctx, c.src)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries = entries
		c.loadedAt = c.clock.Now()
		c.loaded = true
		c.stale = false
		c.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.loaded {
			c.logger.Warn("knowledge refresh failed, serving stale snapshot", "error", err)
			return c.entries, nil
		}
		return nil, err
	}
	return v.([]storage.KnowledgeEntry), nil
}

// Match applies m to the cached entries, newest first.
func (c *Cache) Match(ctx context.Context, question string, m matcher.Matcher) (storage.KnowledgeEntry, bool, error) {
	entries, err := c.Entries(ctx)
	if err != nil {
		return storage.KnowledgeEntry{}, false, err
	}
	entry, ok := m.Match(question, entries)
	return entry, ok, nil
}

// Invalidate forces the next read to reload. The current snapshot is kept
// as a fallback if that reload fails.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// Len returns the number of cached entries without triggering a load.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
