package engine

import (
	"math"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// Results aggregates every closed trade of the run into summary metrics.
// The engine is deterministic for identical ticks and config, so two calls
// on identical runs produce identical results.
func (e *Engine) Results() *domain.BacktestResult {
	res := &domain.BacktestResult{
		TotalTrades:    len(e.trades),
		MaxDrawdown:    e.maxDrawdown,
		SkippedSignals: e.skipped,
		Trades:         e.trades,
		EquityCurve:    e.equityCurve,
	}
	if e.peakEquity > 0 {
		res.MaxDrawdownPct = e.maxDrawdown / e.peakEquity * 100
	}

	if len(e.trades) == 0 {
		return res
	}

	var grossWin, grossLoss float64
	var curWins, curLosses int
	for i := range e.trades {
		t := &e.trades[i]
		res.TotalProfit += t.TotalProfit
		res.TotalProfitPips += t.ProfitPips

		if t.TotalProfit > 0 {
			res.WinningTrades++
			grossWin += t.TotalProfit
			curWins++
			curLosses = 0
		} else if t.TotalProfit < 0 {
			res.LosingTrades++
			grossLoss += -t.TotalProfit
			curLosses++
			curWins = 0
		} else {
			curWins, curLosses = 0, 0
		}
		if curWins > res.MaxConsecutiveWins {
			res.MaxConsecutiveWins = curWins
		}
		if curLosses > res.MaxConsecutiveLosses {
			res.MaxConsecutiveLosses = curLosses
		}
	}

	res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades) * 100
	res.Expectancy = res.TotalProfit / float64(res.TotalTrades)

	if grossLoss > 0 {
		res.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		res.ProfitFactor = math.Inf(1)
	}

	returns := tradeReturns(e.trades, e.cfg.InitialCapital)
	res.SharpeRatio = sharpe(returns)
	res.SortinoRatio = sortino(returns)
	if e.maxDrawdown > 0 {
		res.CalmarRatio = res.TotalProfit / e.maxDrawdown
	}

	return res
}

// tradeReturns expresses each trade's profit as a fraction of the equity it
// was risked against, walking the capital curve forward.
func tradeReturns(trades []domain.ClosedTrade, initialCapital float64) []float64 {
	returns := make([]float64, 0, len(trades))
	capital := initialCapital
	for i := range trades {
		if capital <= 0 {
			break
		}
		returns = append(returns, trades[i].TotalProfit/capital)
		capital += trades[i].TotalProfit
	}
	return returns
}

// sharpe is mean return over return standard deviation. Zero when there are
// too few trades or no variance.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// sortino penalizes only downside deviation.
func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)

	var downside float64
	n := 0
	for _, r := range returns {
		if r < 0 {
			downside += r * r
			n++
		}
	}
	if n == 0 || downside == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	downside = math.Sqrt(downside / float64(len(returns)))
	return mean / downside
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
