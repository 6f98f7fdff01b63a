package engine

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// tickBid builds a tick whose bid is the given price (BUY exits use bid).
func tickBid(i int, bid float64) domain.Tick {
	return domain.Tick{Timestamp: t0.Add(time.Duration(i) * time.Second), Bid: bid, Ask: bid + 0.3, Spread: 0.3}
}

// tickAsk builds a tick whose ask is the given price (SELL exits use ask).
func tickAsk(i int, ask float64) domain.Tick {
	return domain.Tick{Timestamp: t0.Add(time.Duration(i) * time.Second), Bid: ask - 0.3, Ask: ask, Spread: 0.3}
}

func baseConfig() domain.GridConfig {
	return domain.GridConfig{
		StrategyName:   "test",
		LotSize:        1,
		NumOrders:      1,
		PipDistance:    10,
		MaxLevels:      2,
		TakeProfitPips: 20,
		PipValue:       0.10,
		PipValuePerLot: 1.0,
		InitialCapital: 10000,
	}
}

// replay feeds ticks until the engine closes, returning the closing trade.
func replay(t *testing.T, e *Engine, sig string, side domain.Side, entry float64, ticks []domain.Tick) *domain.ClosedTrade {
	t.Helper()
	if err := e.StartSignal(sig, side, entry, t0); err != nil {
		t.Fatalf("StartSignal: %v", err)
	}
	e.OpenInitialOrders(entry, t0)
	for i := range ticks {
		if closed := e.ProcessTick(&ticks[i]); closed != nil {
			return closed
		}
	}
	return nil
}

func TestBuyTakeProfitExact(t *testing.T) {
	// Entry 2000.00, TP 20 pips, pip 0.10: close the moment bid hits 2002.00
	// with profit of exactly pips * lotSize * pipValuePerLot.
	e := New(baseConfig())

	ticks := []domain.Tick{
		tickBid(1, 2000.00),
		tickBid(2, 2000.80),
		tickBid(3, 2001.50),
		tickBid(4, 2002.00),
	}
	closed := replay(t, e, "s1", domain.SideBuy, 2000.00, ticks)
	if closed == nil {
		t.Fatal("position never closed")
	}
	if closed.ExitReason != domain.ExitTakeProfit {
		t.Errorf("ExitReason = %s, want TAKE_PROFIT", closed.ExitReason)
	}
	if closed.ExitPrice != 2002.00 {
		t.Errorf("ExitPrice = %v, want 2002.00", closed.ExitPrice)
	}
	if want := 20 * 1.0 * 1.0; closed.TotalProfit != want {
		t.Errorf("TotalProfit = %v, want %v", closed.TotalProfit, want)
	}
	if closed.ProfitPips != 20 {
		t.Errorf("ProfitPips = %v, want 20", closed.ProfitPips)
	}
}

func TestSellStopLoss(t *testing.T) {
	cfg := baseConfig()
	cfg.UseStopLoss = true
	cfg.StopLossPips = 30
	e := New(cfg)

	// Price moves 31 pips against the SELL; a level opens at 10 pips, no
	// level beyond MaxLevels, then the fixed stop fires.
	ticks := []domain.Tick{
		tickAsk(1, 2000.00),
		tickAsk(2, 2001.00), // 10 pips against: level 1 opens
		tickAsk(3, 2002.00), // would be level 2, blocked by MaxLevels
		tickAsk(4, 2003.10), // 31 pips against: stop
	}
	closed := replay(t, e, "s1", domain.SideSell, 2000.00, ticks)
	if closed == nil {
		t.Fatal("position never closed")
	}
	if closed.ExitReason != domain.ExitStopLoss {
		t.Errorf("ExitReason = %s, want STOP_LOSS", closed.ExitReason)
	}
	if len(closed.Levels) > cfg.MaxLevels {
		t.Errorf("closed with %d levels, max is %d", len(closed.Levels), cfg.MaxLevels)
	}
	if closed.TotalProfit >= 0 {
		t.Errorf("TotalProfit = %v, want a loss", closed.TotalProfit)
	}
}

func TestMaxLevelsNeverExceeded(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxLevels = 3
	cfg.TakeProfitPips = 1000 // keep the position open
	e := New(cfg)

	if err := e.StartSignal("s1", domain.SideBuy, 2000.00, t0); err != nil {
		t.Fatalf("StartSignal: %v", err)
	}
	e.OpenInitialOrders(2000.00, t0)

	// Drive price far against the position; levels must cap at 3.
	for i := 1; i <= 100; i++ {
		tk := tickBid(i, 2000.00-float64(i)*0.5)
		e.ProcessTick(&tk)
		if n := len(e.levels); n > cfg.MaxLevels {
			t.Fatalf("tick %d: %d open levels, max is %d", i, n, cfg.MaxLevels)
		}
	}
	if n := len(e.levels); n != cfg.MaxLevels {
		t.Errorf("open levels = %d, want full grid of %d", n, cfg.MaxLevels)
	}
}

func TestRestrictionLimitsLevels(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxLevels = 5
	cfg.TakeProfitPips = 1000
	cfg.Restriction = domain.RestrictionNoAverage
	e := New(cfg)

	if err := e.StartSignal("s1", domain.SideBuy, 2000.00, t0); err != nil {
		t.Fatalf("StartSignal: %v", err)
	}
	e.OpenInitialOrders(2000.00, t0)
	for i := 1; i <= 50; i++ {
		tk := tickBid(i, 2000.00-float64(i)*0.5)
		e.ProcessTick(&tk)
	}
	if n := len(e.levels); n != 1 {
		t.Errorf("open levels = %d, want 1 under NO_AVERAGING", n)
	}
}

func TestLotScalePerLevel(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxLevels = 3
	cfg.LotScale = 2
	cfg.TakeProfitPips = 1000
	e := New(cfg)

	if err := e.StartSignal("s1", domain.SideBuy, 2000.00, t0); err != nil {
		t.Fatalf("StartSignal: %v", err)
	}
	e.OpenInitialOrders(2000.00, t0)
	for i := 1; i <= 10; i++ {
		tk := tickBid(i, 2000.00-float64(i))
		e.ProcessTick(&tk)
	}

	if len(e.levels) != 3 {
		t.Fatalf("open levels = %d, want 3", len(e.levels))
	}
	wantLots := []float64{1, 2, 4}
	for i, lv := range e.levels {
		if lv.LotSize != wantLots[i] {
			t.Errorf("level %d lot = %v, want %v", i, lv.LotSize, wantLots[i])
		}
	}
}

func TestTrailingStopRatchet(t *testing.T) {
	cfg := baseConfig()
	cfg.UseTrailingStop = true
	cfg.TrailingActivationPct = 50 // arm at 50% of the 2.00 distance to TP
	cfg.TrailingStepPct = 10       // ratchet in 0.20 increments
	cfg.TrailingBackoffPct = 25    // stop sits 25% of the gain behind price
	e := New(cfg)

	ticks := []domain.Tick{
		tickBid(1, 2000.50), // below activation, no stop yet
		tickBid(2, 2001.00), // armed: stop at 2001.00 - 0.25 = 2000.75
		tickBid(3, 2001.60), // ratchet: stop at 2001.60 - 0.40 = 2001.20
		tickBid(4, 2001.10), // pullback crosses the stop
	}
	closed := replay(t, e, "s1", domain.SideBuy, 2000.00, ticks)
	if closed == nil {
		t.Fatal("position never closed")
	}
	if closed.ExitReason != domain.ExitTrailing {
		t.Errorf("ExitReason = %s, want TRAILING_SL", closed.ExitReason)
	}
	if closed.ExitPrice != 2001.10 {
		t.Errorf("ExitPrice = %v, want 2001.10", closed.ExitPrice)
	}
	// Still a profitable exit: the ratchet locked in part of the move.
	if closed.TotalProfit <= 0 {
		t.Errorf("TotalProfit = %v, want > 0", closed.TotalProfit)
	}
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	cfg := baseConfig()
	cfg.UseTrailingStop = true
	cfg.TrailingActivationPct = 50
	cfg.TrailingStepPct = 10
	cfg.TrailingBackoffPct = 25
	e := New(cfg)

	if err := e.StartSignal("s1", domain.SideBuy, 2000.00, t0); err != nil {
		t.Fatalf("StartSignal: %v", err)
	}
	e.OpenInitialOrders(2000.00, t0)

	tk := tickBid(1, 2001.60)
	e.ProcessTick(&tk)
	if e.trailingSL == nil {
		t.Fatal("trailing stop not armed")
	}
	armed := *e.trailingSL

	// A smaller gain would compute a lower stop; the ratchet must hold.
	tk = tickBid(2, 2001.30)
	e.ProcessTick(&tk)
	if e.trailingSL == nil || *e.trailingSL < armed {
		t.Errorf("trailing stop loosened from %v to %v", armed, e.trailingSL)
	}
}

// Forced closes at window end use the last observed price as a proxy for an
// unresolved outcome. That choice can bias results for sparsely covered
// signals; this test pins the behavior down rather than hiding it.
func TestCloseRemainingIsManual(t *testing.T) {
	e := New(baseConfig())

	ticks := []domain.Tick{
		tickBid(1, 2000.00),
		tickBid(2, 2000.50), // never reaches TP
	}
	if closed := replay(t, e, "s1", domain.SideBuy, 2000.00, ticks); closed != nil {
		t.Fatalf("closed early with %s", closed.ExitReason)
	}

	closed := e.CloseRemaining(2000.50, t0.Add(time.Hour))
	if closed == nil {
		t.Fatal("CloseRemaining returned nil with an open position")
	}
	if closed.ExitReason != domain.ExitManual {
		t.Errorf("ExitReason = %s, want MANUAL", closed.ExitReason)
	}
	if e.HasOpenPosition() {
		t.Error("position still open after CloseRemaining")
	}

	res := e.Results()
	if res.TotalTrades != 1 {
		t.Errorf("TotalTrades = %d, want 1 (forced close still counts)", res.TotalTrades)
	}
}

func TestDeterminism(t *testing.T) {
	run := func() *domain.BacktestResult {
		e := New(baseConfig())
		ticks := []domain.Tick{
			tickBid(1, 2000.00),
			tickBid(2, 1999.00),
			tickBid(3, 2001.20),
			tickBid(4, 2002.20),
		}
		replay(t, e, "s1", domain.SideBuy, 2000.00, ticks)
		return e.Results()
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical runs differ:\n%+v\n%+v", a, b)
	}
}

func TestResultsMetrics(t *testing.T) {
	e := New(baseConfig())

	// Two winners.
	for _, sig := range []string{"s1", "s2"} {
		ticks := []domain.Tick{tickBid(1, 2000.00), tickBid(2, 2002.00)}
		if closed := replay(t, e, sig, domain.SideBuy, 2000.00, ticks); closed == nil {
			t.Fatalf("%s never closed", sig)
		}
	}

	res := e.Results()
	if res.TotalTrades != 2 || res.WinningTrades != 2 {
		t.Errorf("trades = %d/%d wins, want 2/2", res.TotalTrades, res.WinningTrades)
	}
	if res.WinRate != 100 {
		t.Errorf("WinRate = %v, want 100", res.WinRate)
	}
	if !math.IsInf(res.ProfitFactor, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf with no losses", res.ProfitFactor)
	}
	if res.MaxConsecutiveWins != 2 {
		t.Errorf("MaxConsecutiveWins = %d, want 2", res.MaxConsecutiveWins)
	}
	if res.TotalProfit != 40 {
		t.Errorf("TotalProfit = %v, want 40", res.TotalProfit)
	}
	if len(res.EquityCurve) != 2 || res.EquityCurve[1] != 10040 {
		t.Errorf("EquityCurve = %v, want ending at 10040", res.EquityCurve)
	}
}

func TestStartSignalValidation(t *testing.T) {
	e := New(baseConfig())
	if err := e.StartSignal("s1", "SIDEWAYS", 2000, t0); err == nil {
		t.Error("invalid side accepted")
	}
	if err := e.StartSignal("s1", domain.SideBuy, 0, t0); err == nil {
		t.Error("zero entry price accepted")
	}
}
