// Package store defines the tick storage interface and its SQLite and
// Parquet backed implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// ErrNoData is returned when a lookup finds no tick within the requested
// range or tolerance.
var ErrNoData = errors.New("store: no tick data")

// TickStore persists and retrieves bid/ask tick data.
type TickStore interface {
	// WriteTicks persists a batch of ticks for a symbol. Ticks whose
	// (symbol, timestamp) pair already exists are silently skipped.
	WriteTicks(ctx context.Context, symbol string, ticks []domain.Tick) error

	// GetTicks returns ticks for the symbol within [start, end], ordered by
	// ascending timestamp.
	GetTicks(ctx context.Context, symbol string, start, end time.Time) ([]domain.Tick, error)

	// MarketPriceNear returns the bid/ask of the tick closest to ts within
	// the given tolerance, or ErrNoData when none exists.
	MarketPriceNear(ctx context.Context, symbol string, ts time.Time, tolerance time.Duration) (domain.Quote, error)

	// Stats reports the tick count and covered time span for a symbol.
	Stats(ctx context.Context, symbol string) (domain.TickStoreStats, error)

	// Close releases any resources held by the store.
	Close() error
}

// Open constructs a TickStore for the given backend name ("sqlite" or
// "parquet").
func Open(backend, dataDir, sqlitePath string) (TickStore, error) {
	switch backend {
	case "parquet":
		return NewParquetStore(dataDir), nil
	case "sqlite", "":
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, errors.New("store: unknown backend " + backend)
	}
}
