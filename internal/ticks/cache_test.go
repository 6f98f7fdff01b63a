package ticks

import (
	"fmt"
	"testing"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

func day(n int) string {
	return fmt.Sprintf("2024-03-%02d", n)
}

func someTicks(n int) []domain.Tick {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ticks := make([]domain.Tick, n)
	for i := range ticks {
		ticks[i] = domain.Tick{Timestamp: base.Add(time.Duration(i) * time.Second), Bid: 2000, Ask: 2000.3, Spread: 0.3}
	}
	return ticks
}

func TestCacheGetSet(t *testing.T) {
	c := NewCache(1<<20, nil)

	if _, ok := c.Get(day(1)); ok {
		t.Error("Get on empty cache reported a hit")
	}

	c.Set(day(1), someTicks(10))
	got, ok := c.Get(day(1))
	if !ok || len(got) != 10 {
		t.Fatalf("Get = %d ticks, ok=%v; want 10, true", len(got), ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1 and 1", stats.Hits, stats.Misses)
	}
	if stats.CurrentBytes != 10*tickSizeBytes {
		t.Errorf("CurrentBytes = %d, want %d", stats.CurrentBytes, 10*tickSizeBytes)
	}
}

func TestCacheNegativeEntry(t *testing.T) {
	c := NewCache(1<<20, nil)

	// An empty day is a valid entry and must report a hit.
	c.Set(day(1), nil)
	got, ok := c.Get(day(1))
	if !ok {
		t.Fatal("cached empty day reported a miss")
	}
	if len(got) != 0 {
		t.Errorf("cached empty day returned %d ticks", len(got))
	}
}

func TestCacheBudgetNeverExceeded(t *testing.T) {
	// Budget fits exactly 3 days of 100 ticks.
	budget := int64(3 * 100 * tickSizeBytes)
	c := NewCache(budget, nil)

	for i := 1; i <= 10; i++ {
		c.Set(day(i), someTicks(100))
		if cur := c.Stats().CurrentBytes; cur > budget {
			t.Fatalf("after inserting day %d: CurrentBytes %d exceeds budget %d", i, cur, budget)
		}
	}

	stats := c.Stats()
	if stats.Entries != 3 {
		t.Errorf("Entries = %d, want 3", stats.Entries)
	}
	if stats.Evictions != 7 {
		t.Errorf("Evictions = %d, want 7", stats.Evictions)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(int64(2*100*tickSizeBytes), nil)

	c.Set(day(1), someTicks(100))
	c.Set(day(2), someTicks(100))

	// Touch day 1 so day 2 becomes the LRU victim.
	if _, ok := c.Get(day(1)); !ok {
		t.Fatal("day 1 missing before eviction test")
	}

	c.Set(day(3), someTicks(100))

	if c.Has(day(2)) {
		t.Error("day 2 should have been evicted as least recently used")
	}
	if !c.Has(day(1)) || !c.Has(day(3)) {
		t.Errorf("cache days = %v, want day 1 and day 3 resident", c.Days())
	}
}

func TestCacheSetReplacesEntry(t *testing.T) {
	c := NewCache(1<<20, nil)

	c.Set(day(1), someTicks(100))
	c.Set(day(1), someTicks(40))

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("Entries = %d, want 1", stats.Entries)
	}
	if stats.CurrentBytes != 40*tickSizeBytes {
		t.Errorf("CurrentBytes = %d, want %d after replacement", stats.CurrentBytes, 40*tickSizeBytes)
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache(1<<20, nil)
	c.Set(day(1), someTicks(10))
	c.Get(day(1))
	c.Clear()

	stats := c.Stats()
	if stats.Entries != 0 || stats.CurrentBytes != 0 || stats.Hits != 0 {
		t.Errorf("stats after Clear = %+v, want all zero", stats)
	}
}

func TestCachePruneOld(t *testing.T) {
	c := NewCache(1<<20, nil)
	c.Set(day(1), someTicks(10))
	c.Set(day(2), someTicks(10))

	// Nothing is older than an hour yet.
	if n := c.PruneOld(time.Hour); n != 0 {
		t.Errorf("PruneOld(1h) = %d, want 0", n)
	}

	// Everything is older than zero age.
	if n := c.PruneOld(0); n != 2 {
		t.Errorf("PruneOld(0) = %d, want 2", n)
	}
	if c.Stats().Entries != 0 {
		t.Errorf("Entries = %d after prune, want 0", c.Stats().Entries)
	}
}
