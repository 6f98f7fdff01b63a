package ticks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
	"github.com/Media-refocus/trading-saas-sub000/internal/store"
)

// maxSignalWindow caps how long after entry a signal's simulation window may
// extend when the close event is late or missing.
const maxSignalWindow = 24 * time.Hour

// cachePruneAge is how long an unused cached day survives before the loader
// prunes it ahead of a batch load.
const cachePruneAge = 30 * time.Minute

// DefaultTolerance is the market price lookup tolerance.
const DefaultTolerance = 5 * time.Minute

// Loader groups signals by the calendar days their simulation windows touch
// and loads each uncached day from the TickStore with one range query,
// instead of issuing per-signal queries.
type Loader struct {
	store     store.TickStore
	cache     *Cache
	symbol    string
	batchDays int
	logger    *slog.Logger
}

// NewLoader creates a Loader reading ticks for symbol from st, caching whole
// days in cache. batchDays controls how many consecutive days share one
// range query; values below 1 are treated as 1.
func NewLoader(st store.TickStore, cache *Cache, symbol string, batchDays int, logger *slog.Logger) *Loader {
	if batchDays < 1 {
		batchDays = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: st, cache: cache, symbol: symbol, batchDays: batchDays, logger: logger}
}

// SignalWindow returns the simulation time range for a signal: from its
// entry timestamp until its close, capped at 24 hours after entry. A missing
// close means the full 24 hours.
func SignalWindow(sig *domain.TradingSignal) (start, end time.Time) {
	start = sig.Timestamp
	end = start.Add(maxSignalWindow)
	if sig.CloseTimestamp != nil && sig.CloseTimestamp.Before(end) {
		end = *sig.CloseTimestamp
	}
	return start, end
}

// DaysNeeded returns the sorted set of UTC day keys touched by the signals'
// simulation windows. A window spanning midnight contributes exactly the
// days it touches.
func (l *Loader) DaysNeeded(signals []domain.TradingSignal) []string {
	seen := make(map[string]struct{})
	for i := range signals {
		start, end := SignalWindow(&signals[i])

		startDay := start.UTC().Truncate(24 * time.Hour)
		endDay := end.UTC().Truncate(24 * time.Hour)
		for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
			seen[domain.DayKey(d)] = struct{}{}
		}
	}

	days := make([]string, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// LoadDays returns ticks for every requested day, serving cached days from
// the cache and loading the rest in batches of consecutive days. Days with
// no ticks in the store are cached as empty so they are never re-queried.
func (l *Loader) LoadDays(ctx context.Context, days []string) (map[string][]domain.Tick, error) {
	result := make(map[string][]domain.Tick, len(days))

	var toLoad []string
	for _, day := range days {
		if ticks, ok := l.cache.Get(day); ok {
			result[day] = ticks
		} else {
			toLoad = append(toLoad, day)
		}
	}

	if len(toLoad) == 0 {
		l.logger.Debug("all days served from cache", "days", len(days))
		return result, nil
	}

	l.logger.Info("loading tick days",
		"uncached", len(toLoad), "cached", len(days)-len(toLoad))

	l.cache.PruneOld(cachePruneAge)

	sort.Strings(toLoad)
	runs, err := contiguousRuns(toLoad)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	totalTicks := 0

	for _, run := range runs {
		for i := 0; i < len(run); i += l.batchDays {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			batch := run[i:min(i+l.batchDays, len(run))]
			start, _ := domain.ParseDayKey(batch[0])
			end, _ := domain.ParseDayKey(batch[len(batch)-1])
			end = end.Add(24*time.Hour - time.Millisecond)

			loaded, err := l.store.GetTicks(ctx, l.symbol, start, end)
			if err != nil {
				return nil, fmt.Errorf("loading ticks for %s..%s: %w", batch[0], batch[len(batch)-1], err)
			}
			totalTicks += len(loaded)

			byDay := make(map[string][]domain.Tick)
			for j := range loaded {
				day := domain.DayKey(loaded[j].Timestamp)
				byDay[day] = append(byDay[day], loaded[j])
			}

			// Cache every requested day of this batch, empty ones included.
			for _, day := range batch {
				ticks := byDay[day]
				result[day] = ticks
				l.cache.Set(day, ticks)
			}
		}
	}

	l.logger.Info("tick days loaded",
		"days", len(toLoad), "ticks", totalTicks, "elapsed", time.Since(started))
	return result, nil
}

// contiguousRuns splits sorted day keys into runs of consecutive calendar
// days. A range query may only span days within one run; spanning a gap
// would fetch every tick in between just to throw it away.
func contiguousRuns(days []string) ([][]string, error) {
	var runs [][]string
	var prev time.Time
	for i, day := range days {
		d, err := domain.ParseDayKey(day)
		if err != nil {
			return nil, fmt.Errorf("invalid day key %q: %w", day, err)
		}
		if i == 0 || !d.Equal(prev.AddDate(0, 0, 1)) {
			runs = append(runs, nil)
		}
		runs[len(runs)-1] = append(runs[len(runs)-1], day)
		prev = d
	}
	return runs, nil
}

// Preload loads every day needed by the given signals and returns the
// per-day tick map used during replay.
func (l *Loader) Preload(ctx context.Context, signals []domain.TradingSignal) (map[string][]domain.Tick, error) {
	days := l.DaysNeeded(signals)
	l.logger.Info("preloading ticks", "days", len(days), "signals", len(signals))
	return l.LoadDays(ctx, days)
}

// TicksForSignal extracts the ticks covering one signal's simulation window
// from already loaded day buckets, in ascending timestamp order. No store
// query is issued.
func TicksForSignal(ticksByDay map[string][]domain.Tick, sig *domain.TradingSignal) []domain.Tick {
	start, end := SignalWindow(sig)

	var out []domain.Tick
	startDay := start.UTC().Truncate(24 * time.Hour)
	endDay := end.UTC().Truncate(24 * time.Hour)
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		for _, t := range ticksByDay[domain.DayKey(d)] {
			if !t.Timestamp.Before(start) && !t.Timestamp.After(end) {
				out = append(out, t)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// MarketPriceNear finds the tick closest to ts within tolerance using the
// loaded day buckets, falling back to the previous day's bucket when the
// timestamp's own day is empty. Returns false when no tick qualifies.
func MarketPriceNear(ticksByDay map[string][]domain.Tick, ts time.Time, tolerance time.Duration) (domain.Quote, bool) {
	dayTicks := ticksByDay[domain.DayKey(ts)]
	if len(dayTicks) == 0 {
		dayTicks = ticksByDay[domain.DayKey(ts.AddDate(0, 0, -1))]
	}
	if len(dayTicks) == 0 {
		return domain.Quote{}, false
	}
	return closestTick(dayTicks, ts, tolerance)
}

func closestTick(ticks []domain.Tick, ts time.Time, tolerance time.Duration) (domain.Quote, bool) {
	var best *domain.Tick
	bestDiff := tolerance + 1
	for i := range ticks {
		diff := ticks[i].Timestamp.Sub(ts)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = &ticks[i], diff
		}
	}
	if best == nil || bestDiff > tolerance {
		return domain.Quote{}, false
	}
	return domain.Quote{
		Timestamp: best.Timestamp,
		Bid:       best.Bid,
		Ask:       best.Ask,
		Spread:    best.Spread,
	}, true
}
