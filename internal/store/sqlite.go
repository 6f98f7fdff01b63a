package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
	"github.com/Media-refocus/trading-saas-sub000/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ TickStore = (*SQLiteStore)(nil)

// SQLiteStore implements TickStore backed by a single SQLite database.
// Timestamps are stored as Unix milliseconds so that the primary key
// (symbol, ts_ms) deduplicates ticks at millisecond granularity.
type SQLiteStore struct {
	db *sql.DB

	// maxBatchRetries bounds how often a locked batch transaction is retried
	// before degrading to per-row inserts.
	maxBatchRetries int
}

const createTicksTable = `
CREATE TABLE IF NOT EXISTS ticks (
	symbol TEXT    NOT NULL,
	ts_ms  INTEGER NOT NULL,
	bid    REAL    NOT NULL,
	ask    REAL    NOT NULL,
	spread REAL    NOT NULL,
	PRIMARY KEY (symbol, ts_ms)
);
CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks (symbol, ts_ms);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// WAL lets readers proceed while an import batch commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	if _, err := db.Exec(createTicksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ticks table: %w", err)
	}

	return &SQLiteStore{db: db, maxBatchRetries: 5}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTicks inserts a batch of ticks inside a single transaction using
// INSERT OR IGNORE, so re-importing an overlapping file is idempotent. When
// the database is locked by another writer the whole batch is retried with
// backoff; if retries are exhausted it degrades to per-row inserts so that a
// persistent lock only loses throughput, not data.
func (s *SQLiteStore) WriteTicks(ctx context.Context, symbol string, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batchErr := util.Retry(ctx, s.maxBatchRetries, 50*time.Millisecond, isLocked, func() error {
		return s.writeBatchTx(ctx, symbol, ticks)
	})
	if batchErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return batchErr
	}
	if !isLocked(batchErr) {
		return fmt.Errorf("writing %d ticks for %s: %w", len(ticks), symbol, batchErr)
	}

	// Batch kept hitting locks. Insert row by row; each statement grabs and
	// releases the lock on its own, which interleaves with the other writer.
	for i := range ticks {
		if err := s.writeOne(ctx, symbol, &ticks[i]); err != nil {
			return fmt.Errorf("degraded insert for %s (batch error: %v): %w", symbol, batchErr, err)
		}
	}
	return nil
}

func (s *SQLiteStore) writeBatchTx(ctx context.Context, symbol string, ticks []domain.Tick) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO ticks (symbol, ts_ms, bid, ask, spread) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range ticks {
		t := &ticks[i]
		if _, err := stmt.ExecContext(ctx, symbol, t.Timestamp.UnixMilli(), t.Bid, t.Ask, t.Spread); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) writeOne(ctx context.Context, symbol string, t *domain.Tick) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO ticks (symbol, ts_ms, bid, ask, spread) VALUES (?, ?, ?, ?, ?)",
		symbol, t.Timestamp.UnixMilli(), t.Bid, t.Ask, t.Spread)
	return err
}

// GetTicks returns ticks for the symbol within [start, end] in ascending
// timestamp order.
func (s *SQLiteStore) GetTicks(ctx context.Context, symbol string, start, end time.Time) ([]domain.Tick, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts_ms, bid, ask, spread FROM ticks WHERE symbol = ? AND ts_ms BETWEEN ? AND ? ORDER BY ts_ms ASC",
		symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying ticks for %s: %w", symbol, err)
	}
	defer rows.Close()

	var ticks []domain.Tick
	for rows.Next() {
		var tsMS int64
		var t domain.Tick
		if err := rows.Scan(&tsMS, &t.Bid, &t.Ask, &t.Spread); err != nil {
			return nil, fmt.Errorf("scanning tick row: %w", err)
		}
		t.Timestamp = time.UnixMilli(tsMS).UTC()
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// MarketPriceNear returns the bid/ask of the tick closest to ts within the
// tolerance window, or ErrNoData when no tick falls inside it.
func (s *SQLiteStore) MarketPriceNear(ctx context.Context, symbol string, ts time.Time, tolerance time.Duration) (domain.Quote, error) {
	target := ts.UnixMilli()
	tol := tolerance.Milliseconds()

	row := s.db.QueryRowContext(ctx,
		`SELECT ts_ms, bid, ask FROM ticks
		 WHERE symbol = ? AND ts_ms BETWEEN ? AND ?
		 ORDER BY ABS(ts_ms - ?) ASC LIMIT 1`,
		symbol, target-tol, target+tol, target)

	var tsMS int64
	var q domain.Quote
	if err := row.Scan(&tsMS, &q.Bid, &q.Ask); err != nil {
		if err == sql.ErrNoRows {
			return domain.Quote{}, ErrNoData
		}
		return domain.Quote{}, fmt.Errorf("looking up market price for %s: %w", symbol, err)
	}
	q.Timestamp = time.UnixMilli(tsMS).UTC()
	return q, nil
}

// Stats reports the tick count and covered time span for a symbol.
func (s *SQLiteStore) Stats(ctx context.Context, symbol string) (domain.TickStoreStats, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MIN(ts_ms), 0), COALESCE(MAX(ts_ms), 0) FROM ticks WHERE symbol = ?",
		symbol)

	var count, minMS, maxMS int64
	if err := row.Scan(&count, &minMS, &maxMS); err != nil {
		return domain.TickStoreStats{}, fmt.Errorf("querying tick stats for %s: %w", symbol, err)
	}

	stats := domain.TickStoreStats{Symbol: symbol, TotalTicks: count}
	if count > 0 {
		first := time.UnixMilli(minMS).UTC()
		last := time.UnixMilli(maxMS).UTC()
		stats.FirstTick = &first
		stats.LastTick = &last
	}
	return stats, nil
}

// isLocked reports whether err is a SQLite busy/locked error. The pure-Go
// driver surfaces these as plain errors, so match on message.
func isLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
