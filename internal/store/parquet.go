package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// Compile-time interface check.
var _ TickStore = (*ParquetStore)(nil)

// ParquetStore implements TickStore using one Parquet file per symbol and
// UTC calendar day. Day files match the granularity of the tick cache, so a
// cache miss maps to exactly one file read.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// TickRecord is the Parquet schema for bid/ask tick data.
type TickRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Bid       float64 `parquet:"bid"`
	Ask       float64 `parquet:"ask"`
	Spread    float64 `parquet:"spread"`
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTicks writes ticks to Parquet files organized by symbol and UTC day.
// Existing day files are merged and deduplicated by timestamp, so overlapping
// imports are idempotent.
func (s *ParquetStore) WriteTicks(_ context.Context, symbol string, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	groups := make(map[string][]TickRecord)
	for i := range ticks {
		t := &ticks[i]
		day := domain.DayKey(t.Timestamp)
		groups[day] = append(groups[day], TickRecord{
			Timestamp: t.Timestamp.UnixMilli(),
			Bid:       t.Bid,
			Ask:       t.Ask,
			Spread:    t.Spread,
		})
	}

	for day, records := range groups {
		path := s.tickPath(symbol, day)

		existing, _ := readParquetFile[TickRecord](path)
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks for %s/%s: %w", symbol, day, err)
		}
	}
	return nil
}

// GetTicks reads ticks for the symbol within [start, end] from the covering
// day files, in ascending timestamp order.
func (s *ParquetStore) GetTicks(_ context.Context, symbol string, start, end time.Time) ([]domain.Tick, error) {
	startMS := start.UnixMilli()
	endMS := end.UnixMilli()

	var ticks []domain.Tick
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end.UTC()); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[TickRecord](s.tickPath(symbol, domain.DayKey(d)))
		if err != nil {
			// No file for this day.
			continue
		}
		for _, r := range records {
			if r.Timestamp >= startMS && r.Timestamp <= endMS {
				ticks = append(ticks, domain.Tick{
					Timestamp: time.UnixMilli(r.Timestamp).UTC(),
					Bid:       r.Bid,
					Ask:       r.Ask,
					Spread:    r.Spread,
				})
			}
		}
	}
	return ticks, nil
}

// MarketPriceNear scans the day file containing ts (day files are sorted, so
// the closest record is found in one pass) and falls back to the adjacent
// day when the tolerance window crosses midnight.
func (s *ParquetStore) MarketPriceNear(ctx context.Context, symbol string, ts time.Time, tolerance time.Duration) (domain.Quote, error) {
	ticks, err := s.GetTicks(ctx, symbol, ts.Add(-tolerance), ts.Add(tolerance))
	if err != nil {
		return domain.Quote{}, err
	}
	if len(ticks) == 0 {
		return domain.Quote{}, ErrNoData
	}

	best := &ticks[0]
	bestDist := absDuration(ticks[0].Timestamp.Sub(ts))
	for i := 1; i < len(ticks); i++ {
		if d := absDuration(ticks[i].Timestamp.Sub(ts)); d < bestDist {
			best, bestDist = &ticks[i], d
		}
	}
	return domain.Quote{Timestamp: best.Timestamp, Bid: best.Bid, Ask: best.Ask, Spread: best.Spread}, nil
}

// Stats walks the symbol's day files and aggregates tick counts and span.
func (s *ParquetStore) Stats(_ context.Context, symbol string) (domain.TickStoreStats, error) {
	dir := filepath.Join(s.DataDir, "ticks", strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.TickStoreStats{Symbol: symbol}, nil
		}
		return domain.TickStoreStats{}, fmt.Errorf("listing tick files for %s: %w", symbol, err)
	}

	stats := domain.TickStoreStats{Symbol: symbol}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		records, err := readParquetFile[TickRecord](filepath.Join(dir, e.Name()))
		if err != nil || len(records) == 0 {
			continue
		}
		stats.TotalTicks += int64(len(records))

		first := time.UnixMilli(records[0].Timestamp).UTC()
		last := time.UnixMilli(records[len(records)-1].Timestamp).UTC()
		if stats.FirstTick == nil || first.Before(*stats.FirstTick) {
			stats.FirstTick = &first
		}
		if stats.LastTick == nil || last.After(*stats.LastTick) {
			stats.LastTick = &last
		}
	}
	return stats, nil
}

// Close is a no-op; day files are opened and closed per call.
func (s *ParquetStore) Close() error { return nil }

// ---------------------------------------------------------------------------
// Path and file helpers
// ---------------------------------------------------------------------------

// tickPath returns the filesystem path for a tick Parquet file.
// Layout: <dataDir>/ticks/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) tickPath(symbol, day string) string {
	return filepath.Join(s.DataDir, "ticks", strings.ToUpper(symbol), day+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRecords deduplicates tick records by timestamp, preferring new
// records over existing ones. Results are sorted by timestamp.
func mergeTickRecords(existing, incoming []TickRecord) []TickRecord {
	seen := make(map[int64]TickRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]TickRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
