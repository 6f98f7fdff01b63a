// Package domain defines the core types shared across the backtest
// platform: price ticks, trading signals, grid strategy configuration,
// simulated trades, and background job records.
package domain

import "time"

// Side is the direction of a trading signal or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Tick is a single bid/ask quote for one symbol at one instant.
// Ticks are immutable once stored and ordered by timestamp; duplicate
// timestamps are tolerated (insert-or-ignore at the store layer).
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Spread    float64   `json:"spread"`
}

// Quote is a point-in-time market price lookup result.
type Quote struct {
	Timestamp time.Time `json:"timestamp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Spread    float64   `json:"spread"`
}

// SignalKind distinguishes raw feed events before pairing.
type SignalKind string

const (
	KindRangeOpen  SignalKind = "range_open"
	KindRangeClose SignalKind = "range_close"
)

// RawSignal is one parsed line of the signal feed, before open/close
// events are paired into TradingSignals.
type RawSignal struct {
	Timestamp  time.Time
	Kind       SignalKind
	Side       Side // empty on close events
	PriceHint  float64
	RangeID    string
	MessageID  int64
	Confidence float64
}

// TradingSignal is a paired entry/exit instruction: one range_open event
// matched with its range_close on the same range ID. Immutable.
type TradingSignal struct {
	ID             string     `json:"id"`
	Timestamp      time.Time  `json:"timestamp"`
	Side           Side       `json:"side"`
	EntryPrice     float64    `json:"entryPrice"` // 0 means "enrich from ticks"
	CloseTimestamp *time.Time `json:"closeTimestamp,omitempty"`
	RangeID        string     `json:"rangeId"`
	Confidence     float64    `json:"confidence"`
}

// Restriction limits how many grid levels a signal may open, mirroring
// the channel-level risk modes of the signal provider.
type Restriction string

const (
	RestrictionNone       Restriction = ""
	RestrictionRiskOnly   Restriction = "RISK_ONLY"    // single order, no averaging
	RestrictionNoAverage  Restriction = "NO_AVERAGING" // base level only
	RestrictionOneAverage Restriction = "ONE_AVERAGE"  // base + one average
)

// GridConfig holds every parameter of the grid strategy. It fully
// determines simulation behaviour for a given signal set and is the
// result-cache key.
type GridConfig struct {
	StrategyName string `json:"strategyName" yaml:"strategy_name"`

	// Entry sizing.
	LotSize   float64 `json:"lotSize" yaml:"lot_size"`     // base lot per order
	NumOrders int     `json:"numOrders" yaml:"num_orders"` // orders opened at entry

	// Grid geometry.
	PipDistance float64 `json:"pipDistance" yaml:"pip_distance"` // pips between levels
	MaxLevels   int     `json:"maxLevels" yaml:"max_levels"`
	LotScale    float64 `json:"lotScale" yaml:"lot_scale"` // lot multiplier per level (1 = flat)

	// Exits.
	TakeProfitPips float64 `json:"takeProfitPips" yaml:"take_profit_pips"`
	StopLossPips   float64 `json:"stopLossPips" yaml:"stop_loss_pips"`
	UseStopLoss    bool    `json:"useStopLoss" yaml:"use_stop_loss"`

	// Trailing stop, all percentages of the distance to take-profit.
	UseTrailingStop       bool    `json:"useTrailingStop" yaml:"use_trailing_stop"`
	TrailingActivationPct float64 `json:"trailingActivationPct" yaml:"trailing_activation_pct"`
	TrailingStepPct       float64 `json:"trailingStepPct" yaml:"trailing_step_pct"`
	TrailingBackoffPct    float64 `json:"trailingBackoffPct" yaml:"trailing_backoff_pct"`

	// Instrument numerics. 1 pip = PipValue price units (0.10 for the
	// gold-style instrument this was built for); one pip on one lot is
	// worth PipValuePerLot in account currency.
	PipValue       float64 `json:"pipValue" yaml:"pip_value"`
	PipValuePerLot float64 `json:"pipValuePerLot" yaml:"pip_value_per_lot"`

	InitialCapital float64     `json:"initialCapital" yaml:"initial_capital"`
	Restriction    Restriction `json:"restriction,omitempty" yaml:"restriction"`
}

// Normalized returns a copy of cfg with zero-valued numeric defaults
// filled in, so two configs that mean the same thing hash the same.
func (c GridConfig) Normalized() GridConfig {
	out := c
	if out.NumOrders <= 0 {
		out.NumOrders = 1
	}
	if out.LotScale <= 0 {
		out.LotScale = 1
	}
	if out.PipValue <= 0 {
		out.PipValue = 0.10
	}
	if out.PipValuePerLot <= 0 {
		out.PipValuePerLot = 1.0
	}
	if out.InitialCapital <= 0 {
		out.InitialCapital = 10000
	}
	return out
}

// EffectiveMaxLevels applies the channel restriction to MaxLevels.
func (c GridConfig) EffectiveMaxLevels() int {
	switch c.Restriction {
	case RestrictionRiskOnly, RestrictionNoAverage:
		return 1
	case RestrictionOneAverage:
		if c.MaxLevels < 2 {
			return c.MaxLevels
		}
		return 2
	default:
		return c.MaxLevels
	}
}

// GridLevel is one open grid order: level 0 is the initial entry,
// higher levels are averages opened as price moved against the position.
type GridLevel struct {
	Level     int       `json:"level"`
	OpenPrice float64   `json:"openPrice"`
	LotSize   float64   `json:"lotSize"`
	OpenedAt  time.Time `json:"openedAt"`
}

// ExitReason classifies how a position was closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTrailing   ExitReason = "TRAILING_SL"
	ExitManual     ExitReason = "MANUAL" // forced close at window end
)

// ClosedTrade is the immutable record of one fully closed position:
// all levels of one signal's grid, closed together at one price for
// exactly one reason.
type ClosedTrade struct {
	SignalID    string      `json:"signalId"`
	Side        Side        `json:"side"`
	EntryPrice  float64     `json:"entryPrice"`
	ExitPrice   float64     `json:"exitPrice"`
	ExitReason  ExitReason  `json:"exitReason"`
	Levels      []GridLevel `json:"levels"`
	TotalProfit float64     `json:"totalProfit"`
	ProfitPips  float64     `json:"profitPips"`
	OpenedAt    time.Time   `json:"openedAt"`
	ClosedAt    time.Time   `json:"closedAt"`
}

// BacktestResult aggregates every closed trade of a run into summary
// metrics plus the capital curve. Immutable once computed; cached by
// config hash.
type BacktestResult struct {
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"` // percent

	TotalProfit     float64 `json:"totalProfit"`
	TotalProfitPips float64 `json:"totalProfitPips"`
	ProfitFactor    float64 `json:"profitFactor"` // +Inf when no losses
	Expectancy      float64 `json:"expectancy"`

	MaxDrawdown    float64 `json:"maxDrawdown"`
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`
	SharpeRatio    float64 `json:"sharpeRatio"`
	SortinoRatio   float64 `json:"sortinoRatio"`
	CalmarRatio    float64 `json:"calmarRatio"`

	MaxConsecutiveWins   int `json:"maxConsecutiveWins"`
	MaxConsecutiveLosses int `json:"maxConsecutiveLosses"`

	SkippedSignals int `json:"skippedSignals"` // signals with no usable ticks, closed at reference price

	Trades      []ClosedTrade `json:"trades"`
	EquityCurve []float64     `json:"equityCurve"`
}

// JobStatus is the lifecycle state of a backtest job. Transitions are
// monotonic: pending -> running -> {completed | error | cancelled}.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobCancelled
}

// BacktestJob is one asynchronous backtest run: a (config, signal
// source) pair plus progress and outcome. Mutated only by the
// scheduler.
type BacktestJob struct {
	ID            string     `json:"id"`
	Status        JobStatus  `json:"status"`
	Config        GridConfig `json:"config"`
	SignalsSource string     `json:"signalsSource"`
	SignalLimit   int        `json:"signalLimit,omitempty"`
	Priority      int        `json:"priority"`

	Progress      int `json:"progress"` // 0..100
	CurrentSignal int `json:"currentSignal"`
	TotalSignals  int `json:"totalSignals"`

	Results *BacktestResult `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TickStoreStats summarizes tick coverage for one symbol.
type TickStoreStats struct {
	Symbol     string     `json:"symbol"`
	TotalTicks int64      `json:"totalTicks"`
	FirstTick  *time.Time `json:"firstTick,omitempty"`
	LastTick   *time.Time `json:"lastTick,omitempty"`
}

// DayKey formats t's UTC calendar day as "YYYY-MM-DD", the granularity
// of tick caching and batch loading.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ParseDayKey parses a "YYYY-MM-DD" day key back to midnight UTC.
func ParseDayKey(key string) (time.Time, error) {
	return time.Parse("2006-01-02", key)
}
