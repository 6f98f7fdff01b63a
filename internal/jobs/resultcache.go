// Package jobs runs backtests as asynchronous, cancellable units of work:
// a bounded-concurrency priority scheduler plus a memoizing result cache.
package jobs

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// ResultCache memoizes completed backtest results keyed by a stable hash of
// the strategy configuration and signal source, so re-running identical
// inputs is instantaneous. Capacity-bounded with LRU eviction.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type resultEntry struct {
	key    string
	result *domain.BacktestResult
}

// NewResultCache creates a cache holding at most capacity results.
func NewResultCache(capacity int) *ResultCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ResultCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// ResultKey derives the cache key from every field of the normalized config
// plus the signal source identity and limit. Any field change produces a
// different key.
func ResultKey(cfg domain.GridConfig, sourceID string, limit int) string {
	// JSON encoding of a struct is deterministic (fields in declaration
	// order), which makes the hash stable across runs.
	encoded, err := json.Marshal(cfg.Normalized())
	if err != nil {
		// A GridConfig of plain scalars cannot fail to encode.
		panic(fmt.Sprintf("encoding grid config: %v", err))
	}

	h := sha256.New()
	h.Write(encoded)
	fmt.Fprintf(h, "|%s|%d", sourceID, limit)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached result for a key, or false on a miss.
func (c *ResultCache) Get(key string) (*domain.BacktestResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*resultEntry).result, true
}

// Put stores a result, evicting the least recently used entry when full.
func (c *ResultCache) Put(key string, result *domain.BacktestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*resultEntry).result = result
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*resultEntry).key)
	}

	c.entries[key] = c.order.PushFront(&resultEntry{key: key, result: result})
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Cap returns the maximum number of cached results.
func (c *ResultCache) Cap() int { return c.capacity }

// Clear drops every cached result.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}
