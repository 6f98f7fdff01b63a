// ticks-import streams tick CSV files (plain or gzip) into the tick store.
//
// Each input line is "timestamp,bid,ask,spread" with millisecond epoch
// timestamps; a header line starting with "timestamp" is skipped. Completed
// files are recorded in a .imported marker next to the data so re-running
// after a crash resumes where it left off.
//
// Usage:
//
//	go run cmd/ticks-import/main.go -symbol XAUUSD data/ticks/*.csv.gz
package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Media-refocus/trading-saas-sub000/internal/config"
	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
	"github.com/Media-refocus/trading-saas-sub000/internal/store"
	"github.com/Media-refocus/trading-saas-sub000/internal/util"
)

func main() {
	godotenv.Load()

	symbol := flag.String("symbol", "", "instrument symbol (defaults to config)")
	backend := flag.String("backend", "", "tick store backend, sqlite or parquet (defaults to config)")
	force := flag.Bool("force", false, "re-import files already in the .imported marker")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ticks-import [-symbol SYM] <file>...")
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if *symbol == "" {
		*symbol = cfg.Backtest.Symbol
	}
	if *backend == "" {
		*backend = cfg.Storage.Backend
	}

	st, err := store.Open(*backend, cfg.Storage.DataDir, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening tick store: %v", err)
	}
	defer st.Close()

	tracker, err := newImportTracker(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("opening import tracker: %v", err)
	}
	defer tracker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var total int64
	start := time.Now()
	for _, path := range flag.Args() {
		if ctx.Err() != nil {
			logger.Warn("interrupted, stopping", "remaining", path)
			break
		}
		if !*force && tracker.Done(path) {
			logger.Info("already imported, skipping", "file", filepath.Base(path))
			continue
		}

		n, err := importFile(ctx, st, *symbol, path, cfg.Import.BatchSize, logger)
		if err != nil {
			log.Fatalf("importing %s: %v", path, err)
		}
		if err := tracker.Mark(path); err != nil {
			log.Fatalf("recording progress: %v", err)
		}
		total += n
	}

	logger.Info("import finished",
		"symbol", *symbol,
		"ticks", total,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func loadConfig() *config.Config {
	path := os.Getenv("BACKTEST_CONFIG")
	if path == "" {
		path = "config/backtest.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config %s: %v", path, err)
	}
	return cfg
}

// importFile streams one CSV file into the store in batches.
func importFile(ctx context.Context, st store.TickStore, symbol, path string, batchSize int, logger *slog.Logger) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("opening gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	logger.Info("importing", "file", filepath.Base(path))

	var (
		total     int64
		malformed int
		batch     = make([]domain.Tick, 0, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.WriteTicks(ctx, symbol, batch); err != nil {
			return err
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || (lineNo == 1 && strings.HasPrefix(line, "timestamp")) {
			continue
		}

		tick, err := parseTickLine(line)
		if err != nil {
			malformed++
			if malformed <= 5 {
				logger.Warn("skipping malformed line", "file", filepath.Base(path), "line", lineNo, "err", err)
			}
			continue
		}
		batch = append(batch, tick)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, fmt.Errorf("writing batch at line %d: %w", lineNo, err)
			}
			if total%1_000_000 < int64(batchSize) {
				logger.Info("progress", "file", filepath.Base(path), "ticks", total)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return total, fmt.Errorf("reading file: %w", err)
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("writing final batch: %w", err)
	}

	logger.Info("file done", "file", filepath.Base(path), "ticks", total, "malformed", malformed)
	return total, nil
}

// parseTickLine parses "timestamp,bid,ask,spread". Spread is recomputed when
// the column is missing or empty.
func parseTickLine(line string) (domain.Tick, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return domain.Tick{}, fmt.Errorf("expected at least 3 fields, got %d", len(parts))
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("bad timestamp %q: %w", parts[0], err)
	}
	bid, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("bad bid %q: %w", parts[1], err)
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("bad ask %q: %w", parts[2], err)
	}

	spread := ask - bid
	if len(parts) >= 4 {
		if s := strings.TrimSpace(parts[3]); s != "" {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				spread = v
			}
		}
	}

	return domain.Tick{
		Timestamp: time.UnixMilli(ms).UTC(),
		Bid:       bid,
		Ask:       ask,
		Spread:    spread,
	}, nil
}

// importTracker manages the .imported marker file for crash recovery and
// idempotency.
type importTracker struct {
	mu     sync.Mutex
	done   map[string]struct{}
	writer *bufio.Writer
	file   *os.File
}

func newImportTracker(dataDir string) (*importTracker, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	t := &importTracker{done: make(map[string]struct{})}

	path := filepath.Join(dataDir, ".imported")
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			name := strings.TrimSpace(line)
			if name != "" {
				t.done[name] = struct{}{}
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening .imported: %w", err)
	}
	t.file = f
	t.writer = bufio.NewWriter(f)

	return t, nil
}

// Done reports whether the file was already fully imported.
func (t *importTracker) Done(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.done[key(path)]
	return ok
}

// Mark records a file as fully imported.
func (t *importTracker) Mark(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(path)
	if _, ok := t.done[k]; ok {
		return nil
	}
	t.done[k] = struct{}{}
	if _, err := t.writer.WriteString(k + "\n"); err != nil {
		return fmt.Errorf("writing to .imported: %w", err)
	}
	return t.writer.Flush()
}

func (t *importTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		return err
	}
	return t.file.Close()
}

func key(path string) string { return filepath.Base(path) }
