package jobs

import (
	"testing"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

func TestResultKeyStable(t *testing.T) {
	cfg := domain.GridConfig{LotSize: 0.1, PipDistance: 10, MaxLevels: 3}
	if ResultKey(cfg, "feed.csv", 0) != ResultKey(cfg, "feed.csv", 0) {
		t.Error("identical inputs produced different keys")
	}
}

func TestResultKeyNormalizesDefaults(t *testing.T) {
	implicit := domain.GridConfig{LotSize: 0.1}
	explicit := domain.GridConfig{LotSize: 0.1, NumOrders: 1, LotScale: 1,
		PipValue: 0.10, PipValuePerLot: 1.0, InitialCapital: 10000}
	if ResultKey(implicit, "feed.csv", 0) != ResultKey(explicit, "feed.csv", 0) {
		t.Error("defaulted and explicit configs should hash the same")
	}
}

func TestResultKeySensitivity(t *testing.T) {
	base := domain.GridConfig{LotSize: 0.1, PipDistance: 10}
	baseKey := ResultKey(base, "feed.csv", 0)

	changed := base
	changed.PipDistance = 11
	if ResultKey(changed, "feed.csv", 0) == baseKey {
		t.Error("config change did not change the key")
	}
	if ResultKey(base, "other.csv", 0) == baseKey {
		t.Error("source change did not change the key")
	}
	if ResultKey(base, "feed.csv", 5) == baseKey {
		t.Error("limit change did not change the key")
	}
}

func TestResultCacheEviction(t *testing.T) {
	c := NewResultCache(2)
	c.Put("a", &domain.BacktestResult{TotalTrades: 1})
	c.Put("b", &domain.BacktestResult{TotalTrades: 2})

	// Touch "a" so "b" becomes the LRU victim.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}
	c.Put("c", &domain.BacktestResult{TotalTrades: 3})

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestResultCacheReplace(t *testing.T) {
	c := NewResultCache(2)
	c.Put("a", &domain.BacktestResult{TotalTrades: 1})
	c.Put("a", &domain.BacktestResult{TotalTrades: 9})

	res, ok := c.Get("a")
	if !ok || res.TotalTrades != 9 {
		t.Errorf("Get(a) = %+v, want replaced result with 9 trades", res)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
