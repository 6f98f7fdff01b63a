// backtest-server runs the backtest HTTP API: job submission, polling,
// cancellation, and cache/tick statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Media-refocus/trading-saas-sub000/internal/config"
	"github.com/Media-refocus/trading-saas-sub000/internal/httpapi"
	"github.com/Media-refocus/trading-saas-sub000/internal/jobs"
	"github.com/Media-refocus/trading-saas-sub000/internal/store"
	"github.com/Media-refocus/trading-saas-sub000/internal/ticks"
	"github.com/Media-refocus/trading-saas-sub000/internal/util"
)

func main() {
	godotenv.Load()

	cfg := loadConfig()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	tickStore, err := store.Open(cfg.Storage.Backend, cfg.Storage.DataDir, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening tick store: %v", err)
	}
	defer tickStore.Close()

	cache := ticks.NewCache(int64(cfg.Backtest.CacheMaxMB)<<20, logger)
	loader := ticks.NewLoader(tickStore, cache, cfg.Backtest.Symbol, cfg.Backtest.BatchDays, logger)
	results := jobs.NewResultCache(cfg.Backtest.ResultCacheSize)
	scheduler := jobs.NewScheduler(loader, results, nil,
		cfg.Backtest.MaxConcurrentJobs, cfg.Backtest.MaxCompletedJobs, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go scheduler.Start(ctx)

	api := httpapi.NewServer(scheduler, cache, results, tickStore, cfg.Backtest.Symbol, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("backtest server listening",
		"addr", addr,
		"backend", cfg.Storage.Backend,
		"symbol", cfg.Backtest.Symbol,
		"max_concurrent_jobs", cfg.Backtest.MaxConcurrentJobs,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("server stopped")
}

func loadConfig() *config.Config {
	cfgPath := "config/backtest.yaml"
	explicit := false
	if p := os.Getenv("BACKTEST_CONFIG"); p != "" {
		cfgPath = p
		explicit = true
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if explicit || !os.IsNotExist(err) {
			log.Fatalf("failed to load config: %v", err)
		}
		return config.Default()
	}
	return cfg
}
