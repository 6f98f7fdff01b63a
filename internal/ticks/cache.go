// Package ticks provides the bounded in-memory day cache and the batch
// loader that fills it from a TickStore.
package ticks

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// tickSizeBytes is the estimated in-memory footprint of one tick:
// time.Time (24) plus three float64 (24).
const tickSizeBytes = 48

// CacheStats is a snapshot of cache occupancy and effectiveness counters.
type CacheStats struct {
	Entries      int   `json:"entries"`
	TotalTicks   int   `json:"totalTicks"`
	CurrentBytes int64 `json:"currentBytes"`
	MaxBytes     int64 `json:"maxBytes"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Evictions    int64 `json:"evictions"`
}

type cacheEntry struct {
	day        string
	ticks      []domain.Tick
	sizeBytes  int64
	lastAccess time.Time
}

// Cache is a memory-bounded LRU over whole days of ticks, keyed by the UTC
// day string. An empty slice is a valid entry: it records that the store has
// no ticks for that day, so the loader never re-queries it.
type Cache struct {
	mu sync.Mutex

	maxBytes     int64
	currentBytes int64

	order   *list.List // front = most recent
	entries map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64

	logger *slog.Logger
}

// NewCache creates a Cache bounded to maxBytes of estimated tick memory.
func NewCache(maxBytes int64, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		logger:   logger,
	}
}

// Get returns the cached ticks for a day and marks the entry recently used.
// The second return distinguishes a cached empty day from a miss.
func (c *Cache) Get(day string) ([]domain.Tick, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[day]
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	c.order.MoveToFront(el)
	entry := el.Value.(*cacheEntry)
	entry.lastAccess = time.Now()
	return entry.ticks, true
}

// Set stores a day's ticks, evicting least recently used days until the new
// entry fits. A day larger than the whole budget is still stored after the
// cache has been emptied, since refusing it would force a re-query on every
// signal touching that day.
func (c *Cache) Set(day string, ticks []domain.Tick) {
	size := int64(len(ticks)) * tickSizeBytes

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[day]; ok {
		old := el.Value.(*cacheEntry)
		c.currentBytes -= old.sizeBytes
		c.order.Remove(el)
		delete(c.entries, day)
	}

	for c.currentBytes+size > c.maxBytes && c.order.Len() > 0 {
		c.evictOldest()
	}

	entry := &cacheEntry{day: day, ticks: ticks, sizeBytes: size, lastAccess: time.Now()}
	c.entries[day] = c.order.PushFront(entry)
	c.currentBytes += size
}

// Has reports whether a day is cached, without touching LRU order.
func (c *Cache) Has(day string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[day]
	return ok
}

// Days returns the cached day keys, most recently used first.
func (c *Cache) Days() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	days := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		days = append(days, el.Value.(*cacheEntry).day)
	}
	return days
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("clearing tick cache",
		"entries", c.order.Len(), "bytes", c.currentBytes)

	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.currentBytes = 0
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// PruneOld removes entries not accessed within maxAge and returns how many
// were dropped.
func (c *Cache) PruneOld(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if entry.lastAccess.Before(cutoff) {
			c.currentBytes -= entry.sizeBytes
			c.order.Remove(el)
			delete(c.entries, entry.day)
			pruned++
		}
		el = prev
	}

	if pruned > 0 {
		c.logger.Debug("pruned stale cache entries", "count", pruned)
	}
	return pruned
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	totalTicks := 0
	for el := c.order.Front(); el != nil; el = el.Next() {
		totalTicks += len(el.Value.(*cacheEntry).ticks)
	}

	return CacheStats{
		Entries:      c.order.Len(),
		TotalTicks:   totalTicks,
		CurrentBytes: c.currentBytes,
		MaxBytes:     c.maxBytes,
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
	}
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	c.currentBytes -= entry.sizeBytes
	c.order.Remove(el)
	delete(c.entries, entry.day)
	c.evictions++

	if c.evictions%10 == 0 {
		c.logger.Debug("cache evictions",
			"evictions", c.evictions, "bytes", c.currentBytes)
	}
}
