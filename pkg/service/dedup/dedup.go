// Package dedup suppresses near-simultaneous duplicate writes with a
// content-hash cache over a sliding time window. It is best-effort: the
// cache contents can be exported and reseeded so the window survives
// one-shot processes, but concurrent writers may still race.
package dedup

import (
	"sync"
	"time"

	"github.com/m-mizutani/kioku/pkg/model"
)

const (
	// DefaultWindow is how long a written hash suppresses duplicates.
	DefaultWindow = 5 * time.Minute

	// minTextLength guards very short texts, which are too ambiguous to dedup.
	minTextLength = 20

	// sweepThreshold triggers an opportunistic eviction sweep.
	sweepThreshold = 500
)

type entry struct {
	count    int
	lastSeen time.Time
}

// Cache is a process-wide, time-windowed memory of recently written items.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	window  time.Duration
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithWindow overrides the dedup window.
func WithWindow(w time.Duration) Option {
	return func(c *Cache) { c.window = w }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithEntries seeds the cache from persisted entries. Entries already past
// the window fall out on lookup or sweep as usual.
func WithEntries(entries []model.DedupEntry) Option {
	return func(c *Cache) {
		for _, e := range entries {
			c.entries[e.Hash] = &entry{count: e.Count, lastSeen: e.LastSeen}
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		window:  DefaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsDuplicate reports whether an equivalent (text, type) was written within
// the window. A hit slides the window forward for that hash.
func (c *Cache) IsDuplicate(text string, memType model.MemoryType) bool {
	if len(text) < minTextLength {
		return false
	}

	hash := model.ContentHash(memType, text)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[hash]
	if !ok {
		return false
	}
	if now.Sub(e.lastSeen) >= c.window {
		delete(c.entries, hash)
		return false
	}

	e.count++
	e.lastSeen = now
	return true
}

// MarkAdded records that (text, type) was just written.
func (c *Cache) MarkAdded(text string, memType model.MemoryType) {
	if len(text) < minTextLength {
		return
	}

	hash := model.ContentHash(memType, text)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[hash] = &entry{count: 1, lastSeen: now}
	if len(c.entries) > sweepThreshold {
		c.sweep(now)
	}
}

// Export snapshots the live entries for persistence, dropping anything
// already outside the window.
func (c *Cache) Export() []model.DedupEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]model.DedupEntry, 0, len(c.entries))
	for hash, e := range c.entries {
		if now.Sub(e.lastSeen) >= c.window {
			continue
		}
		out = append(out, model.DedupEntry{Hash: hash, Count: e.count, LastSeen: e.lastSeen})
	}
	return out
}

// Len returns the number of cached hashes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweep drops entries older than the window. Caller must hold the lock.
func (c *Cache) sweep(now time.Time) {
	for hash, e := range c.entries {
		if now.Sub(e.lastSeen) >= c.window {
			delete(c.entries, hash)
		}
	}
}
