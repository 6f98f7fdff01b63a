// backtest-cli submits a backtest to a running backtest-server, waits for
// it to finish, and prints the result summary.
//
// Usage:
//
//	go run cmd/backtest-cli/main.go -source data/signals.csv -lot 0.1 [-tp 20] [-sl 30]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
	"github.com/Media-refocus/trading-saas-sub000/pkg/backtest"
)

func main() {
	godotenv.Load()

	server := flag.String("server", "http://localhost:8080", "backtest server base URL")
	source := flag.String("source", "", "signal feed file path (as visible to the server)")
	strategy := flag.String("strategy", "grid", "strategy name")
	lot := flag.Float64("lot", 0.1, "base lot size")
	orders := flag.Int("orders", 1, "orders opened at entry")
	gridPips := flag.Float64("grid", 10, "pip distance between grid levels")
	maxLevels := flag.Int("levels", 3, "max grid levels")
	lotScale := flag.Float64("lot-scale", 1, "lot multiplier per level")
	tp := flag.Float64("tp", 20, "take-profit pips")
	sl := flag.Float64("sl", 0, "fixed stop-loss pips (0 = disabled)")
	trailing := flag.Bool("trailing", false, "enable trailing stop")
	trailActivation := flag.Float64("trail-activation", 50, "trailing activation, % of distance to TP")
	trailStep := flag.Float64("trail-step", 10, "trailing ratchet step, % of distance to TP")
	trailBackoff := flag.Float64("trail-backoff", 25, "trailing back-off, % of gained distance")
	limit := flag.Int("limit", 0, "max signals to run (0 = all)")
	priority := flag.Int("priority", 0, "job priority (higher runs first)")
	wait := flag.Bool("wait", true, "poll until the job finishes")
	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "missing -source")
		flag.Usage()
		os.Exit(2)
	}

	cfg := domain.GridConfig{
		StrategyName:          *strategy,
		LotSize:               *lot,
		NumOrders:             *orders,
		PipDistance:           *gridPips,
		MaxLevels:             *maxLevels,
		LotScale:              *lotScale,
		TakeProfitPips:        *tp,
		StopLossPips:          *sl,
		UseStopLoss:           *sl > 0,
		UseTrailingStop:       *trailing,
		TrailingActivationPct: *trailActivation,
		TrailingStepPct:       *trailStep,
		TrailingBackoffPct:    *trailBackoff,
	}

	client := backtest.NewClient(*server)
	ctx := context.Background()

	job, err := client.Submit(ctx, backtest.SubmitRequest{
		Config:        cfg,
		SignalsSource: *source,
		Limit:         *limit,
		Priority:      *priority,
	})
	if err != nil {
		log.Fatalf("submitting backtest: %v", err)
	}
	fmt.Printf("job %s submitted (%s)\n", job.ID, job.Status)

	if !*wait {
		return
	}

	job, err = client.WaitForJob(ctx, job.ID, time.Second)
	if err != nil {
		log.Fatalf("waiting for job: %v", err)
	}

	switch job.Status {
	case domain.JobCompleted:
		printResults(job.Results)
	case domain.JobError:
		log.Fatalf("job failed: %s", job.Error)
	default:
		fmt.Printf("job ended as %s\n", job.Status)
	}
}

func printResults(res *domain.BacktestResult) {
	if res == nil {
		fmt.Println("no results")
		return
	}

	fmt.Printf("\ntrades:        %d (%d wins / %d losses, %.1f%% win rate)\n",
		res.TotalTrades, res.WinningTrades, res.LosingTrades, res.WinRate)
	fmt.Printf("profit:        %.2f (%.1f pips)\n", res.TotalProfit, res.TotalProfitPips)
	fmt.Printf("profit factor: %.2f\n", res.ProfitFactor)
	fmt.Printf("expectancy:    %.2f per trade\n", res.Expectancy)
	fmt.Printf("max drawdown:  %.2f (%.1f%%)\n", res.MaxDrawdown, res.MaxDrawdownPct)
	fmt.Printf("sharpe %.2f / sortino %.2f / calmar %.2f\n",
		res.SharpeRatio, res.SortinoRatio, res.CalmarRatio)
	fmt.Printf("streaks:       %d wins, %d losses\n",
		res.MaxConsecutiveWins, res.MaxConsecutiveLosses)
	if res.SkippedSignals > 0 {
		fmt.Printf("skipped:       %d signals without usable ticks\n", res.SkippedSignals)
	}
}
