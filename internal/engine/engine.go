// Package engine implements the grid backtest state machine: one signal at
// a time, fed a chronological tick stream, producing closed trades and a
// running equity curve.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// ratchetEpsilon absorbs float rounding when comparing trailing-stop steps.
const ratchetEpsilon = 1e-9

// Engine replays ticks against a grid strategy. State is per-signal except
// for the closed-trade log and equity accounting, which accumulate across
// every signal of a run. Not safe for concurrent use; each job owns its own
// Engine.
type Engine struct {
	cfg domain.GridConfig

	// Per-signal state, reset by StartSignal.
	signalID   string
	side       domain.Side
	entryPrice float64
	levels     []domain.GridLevel
	lastLevel  float64  // open price of the most recent level
	trailingSL *float64 // virtual stop, ratchets toward profit only
	maxLevels  int
	openedAt   time.Time

	// Run-wide accumulators.
	trades      []domain.ClosedTrade
	equityCurve []float64
	equity      float64
	peakEquity  float64
	maxDrawdown float64
	skipped     int
}

// New creates an Engine for the given strategy configuration. The config is
// normalized so zero-valued numeric fields take their instrument defaults.
func New(cfg domain.GridConfig) *Engine {
	n := cfg.Normalized()
	return &Engine{
		cfg:        n,
		equity:     n.InitialCapital,
		peakEquity: n.InitialCapital,
	}
}

// StartSignal resets per-signal state for a new replay window. Any levels
// left open from a previous signal are discarded; callers close them first
// via CloseRemaining.
func (e *Engine) StartSignal(id string, side domain.Side, entryPrice float64, at time.Time) error {
	if !side.Valid() {
		return fmt.Errorf("starting signal %s: invalid side %q", id, side)
	}
	if entryPrice <= 0 {
		return fmt.Errorf("starting signal %s: invalid entry price %v", id, entryPrice)
	}

	e.signalID = id
	e.side = side
	e.entryPrice = entryPrice
	e.levels = nil
	e.lastLevel = 0
	e.trailingSL = nil
	e.maxLevels = e.cfg.EffectiveMaxLevels()
	e.openedAt = at
	return nil
}

// OpenInitialOrders opens the level-0 order(s) at the given price. Each of
// the configured NumOrders contributes base lot size at level 0.
func (e *Engine) OpenInitialOrders(price float64, at time.Time) []domain.GridLevel {
	for i := 0; i < e.cfg.NumOrders; i++ {
		e.levels = append(e.levels, domain.GridLevel{
			Level:     0,
			OpenPrice: price,
			LotSize:   e.cfg.LotSize,
			OpenedAt:  at,
		})
	}
	e.lastLevel = price
	return e.levels
}

// HasOpenPosition reports whether the current signal still holds open levels.
func (e *Engine) HasOpenPosition() bool {
	return len(e.levels) > 0
}

// ProcessTick advances the simulation by one tick. It returns the closed
// trade on the tick that triggers an exit, or nil while the position stays
// open. Exit checks run in a fixed order: trailing ratchet, trailing hit,
// fixed stop, take profit, averaging.
func (e *Engine) ProcessTick(tick *domain.Tick) *domain.ClosedTrade {
	if len(e.levels) == 0 {
		return nil
	}

	// Exits happen at the price the position would actually close at:
	// bid for a BUY, ask for a SELL.
	price := tick.Bid
	if e.side == domain.SideSell {
		price = tick.Ask
	}

	e.updateTrailing(price)

	if e.trailingHit(price) {
		return e.closeAll(price, domain.ExitTrailing, tick.Timestamp)
	}

	if e.fixedStopHit(price) {
		return e.closeAll(price, domain.ExitStopLoss, tick.Timestamp)
	}

	if e.takeProfitHit(price) {
		return e.closeAll(price, domain.ExitTakeProfit, tick.Timestamp)
	}

	e.maybeAverage(price, tick.Timestamp)
	e.markEquity(price)
	return nil
}

// CloseRemaining force-closes any open levels at the given price, used when
// a signal's tick window runs out before an exit trigger fires. The close is
// recorded as manual rather than dropped, so sparse data does not shrink the
// trade count. Returns nil when nothing is open.
func (e *Engine) CloseRemaining(price float64, at time.Time) *domain.ClosedTrade {
	if len(e.levels) == 0 {
		return nil
	}
	return e.closeAll(price, domain.ExitManual, at)
}

// MarkSkipped records a signal whose entire window had no usable ticks and
// was closed at its reference price.
func (e *Engine) MarkSkipped() {
	e.skipped++
}

// ---------------------------------------------------------------------------
// Per-tick checks
// ---------------------------------------------------------------------------

// updateTrailing arms and ratchets the virtual trailing stop. Activation,
// step, and back-off are all expressed as a percentage of the distance from
// entry to take-profit. The stop only ever moves in the favorable direction.
func (e *Engine) updateTrailing(price float64) {
	if !e.cfg.UseTrailingStop || e.cfg.TakeProfitPips <= 0 {
		return
	}

	distToTP := e.cfg.TakeProfitPips * e.cfg.PipValue
	activation := distToTP * e.cfg.TrailingActivationPct / 100
	step := distToTP * e.cfg.TrailingStepPct / 100

	if e.side == domain.SideBuy {
		gained := price - e.entryPrice
		if gained < activation {
			return
		}
		target := price - gained*e.cfg.TrailingBackoffPct/100
		if e.trailingSL == nil || target-*e.trailingSL >= step-ratchetEpsilon {
			e.trailingSL = &target
		}
	} else {
		gained := e.entryPrice - price
		if gained < activation {
			return
		}
		target := price + gained*e.cfg.TrailingBackoffPct/100
		if e.trailingSL == nil || *e.trailingSL-target >= step-ratchetEpsilon {
			e.trailingSL = &target
		}
	}
}

func (e *Engine) trailingHit(price float64) bool {
	if e.trailingSL == nil {
		return false
	}
	if e.side == domain.SideBuy {
		return price <= *e.trailingSL
	}
	return price >= *e.trailingSL
}

func (e *Engine) fixedStopHit(price float64) bool {
	if !e.cfg.UseStopLoss || e.cfg.StopLossPips <= 0 {
		return false
	}
	stopDistance := e.cfg.StopLossPips * e.cfg.PipValue
	if e.side == domain.SideBuy {
		return price <= e.entryPrice-stopDistance
	}
	return price >= e.entryPrice+stopDistance
}

// takeProfitHit checks the position's weighted-average breakeven against the
// configured take-profit distance.
func (e *Engine) takeProfitHit(price float64) bool {
	if e.cfg.TakeProfitPips <= 0 {
		return false
	}
	avg := e.averagePrice()
	return e.pips(avg, price) >= e.cfg.TakeProfitPips
}

// maybeAverage opens the next grid level when price has moved PipDistance
// against the most recently opened level and a slot remains below the
// effective max. Level lot size scales by LotScale per level.
func (e *Engine) maybeAverage(price float64, at time.Time) {
	nextLevel := e.highestLevel() + 1
	if nextLevel >= e.maxLevels {
		return
	}

	gridDistance := e.cfg.PipDistance * e.cfg.PipValue
	if gridDistance <= 0 {
		return
	}

	var against float64
	if e.side == domain.SideBuy {
		against = e.lastLevel - price
	} else {
		against = price - e.lastLevel
	}
	if against < gridDistance {
		return
	}

	lot := e.cfg.LotSize * math.Pow(e.cfg.LotScale, float64(nextLevel))
	e.levels = append(e.levels, domain.GridLevel{
		Level:     nextLevel,
		OpenPrice: price,
		LotSize:   lot,
		OpenedAt:  at,
	})
	e.lastLevel = price
}

// ---------------------------------------------------------------------------
// Closing and accounting
// ---------------------------------------------------------------------------

// closeAll closes every open level at the given price under one exit reason
// and folds realized profit into the equity accumulators.
func (e *Engine) closeAll(price float64, reason domain.ExitReason, at time.Time) *domain.ClosedTrade {
	var totalProfit, totalPips float64
	for i := range e.levels {
		lv := &e.levels[i]
		pips := e.pips(lv.OpenPrice, price)
		totalPips += pips
		totalProfit += pips * lv.LotSize * e.cfg.PipValuePerLot
	}

	trade := domain.ClosedTrade{
		SignalID:    e.signalID,
		Side:        e.side,
		EntryPrice:  e.entryPrice,
		ExitPrice:   price,
		ExitReason:  reason,
		Levels:      e.levels,
		TotalProfit: totalProfit,
		ProfitPips:  totalPips,
		OpenedAt:    e.openedAt,
		ClosedAt:    at,
	}
	e.trades = append(e.trades, trade)

	e.equity += totalProfit
	e.equityCurve = append(e.equityCurve, e.equity)
	if e.equity > e.peakEquity {
		e.peakEquity = e.equity
	}
	if dd := e.peakEquity - e.equity; dd > e.maxDrawdown {
		e.maxDrawdown = dd
	}

	e.levels = nil
	e.trailingSL = nil
	return &trade
}

// markEquity folds unrealized P&L into the drawdown tracking without
// touching realized equity.
func (e *Engine) markEquity(price float64) {
	var floating float64
	for i := range e.levels {
		lv := &e.levels[i]
		floating += e.pips(lv.OpenPrice, price) * lv.LotSize * e.cfg.PipValuePerLot
	}

	mark := e.equity + floating
	if mark > e.peakEquity {
		e.peakEquity = mark
	}
	if dd := e.peakEquity - mark; dd > e.maxDrawdown {
		e.maxDrawdown = dd
	}
}

// averagePrice is the lot-weighted mean open price of all open levels.
func (e *Engine) averagePrice() float64 {
	var lots, weighted float64
	for i := range e.levels {
		lots += e.levels[i].LotSize
		weighted += e.levels[i].OpenPrice * e.levels[i].LotSize
	}
	if lots == 0 {
		return e.entryPrice
	}
	return weighted / lots
}

// highestLevel returns the highest open level number, or -1 with no levels.
func (e *Engine) highestLevel() int {
	highest := -1
	for i := range e.levels {
		if e.levels[i].Level > highest {
			highest = e.levels[i].Level
		}
	}
	return highest
}

// pips converts a signed price move from open to current into pips for the
// engine's side: positive means profit.
func (e *Engine) pips(openPrice, current float64) float64 {
	if e.side == domain.SideBuy {
		return (current - openPrice) / e.cfg.PipValue
	}
	return (openPrice - current) / e.cfg.PipValue
}
