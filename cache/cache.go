// Package cache memoizes extraction results for a fixed freshness window.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-adwatch/models"
)

const (
	// FreshnessWindow is how long a result is served from the cache.
	FreshnessWindow = 15 * time.Minute
	// SoftLimit triggers a sweep of stale entries once exceeded.
	SoftLimit = 100
	// DefaultHardLimit caps memory when most entries are still fresh.
	DefaultHardLimit = 1000
)

// Entry is a cached result with the time it was recorded.
type Entry struct {
	Result     models.ExtractionResult
	RecordedAt time.Time
}

// Cache is safe for concurrent use. The LRU bound only applies once more
// than hardLimit entries are fresh at the same time.
type Cache struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New builds a cache holding at most hardLimit entries.
func New(hardLimit int, opts ...Option) (*Cache, error) {
	if hardLimit <= SoftLimit {
		hardLimit = DefaultHardLimit
	}
	entries, err := lru.New[string, Entry](hardLimit)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	c := &Cache{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns a fresh result for key. Stale entries are reported absent.
func (c *Cache) Get(key string) (models.ExtractionResult, bool) {
	entry, ok := c.entries.Peek(key)
	if !ok || c.stale(entry) {
		return models.ExtractionResult{}, false
	}
	return entry.Result, true
}

// Put records result under key, last write wins.
func (c *Cache) Put(key string, result models.ExtractionResult) {
	c.entries.Add(key, Entry{Result: result, RecordedAt: c.now()})
	if c.entries.Len() > SoftLimit {
		c.sweep()
	}
}

// Len reports the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// sweep drops every stale entry found at call time.
func (c *Cache) sweep() int {
	removed := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && c.stale(entry) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

func (c *Cache) stale(e Entry) bool {
	return c.now().Sub(e.RecordedAt) >= FreshnessWindow
}
