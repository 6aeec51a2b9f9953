// Package domain defines the core data types shared across the monitoring
// pipeline: price series, strategy definitions, backtest results, and the
// published result artifact.
package domain

import "time"

// ArtifactSchemaVersion identifies the on-disk layout of ResultArtifact.
// Bump when the JSON shape changes incompatibly.
const ArtifactSchemaVersion = 1

// Provenance records how a price series (and the results derived from it)
// was obtained.
type Provenance string

const (
	// ProvenanceReal marks data fetched from the market-data provider.
	ProvenanceReal Provenance = "real"
	// ProvenanceEstimated marks data produced by the analytic fallback
	// estimator after an entitlement-denied response.
	ProvenanceEstimated Provenance = "estimated"
	// ProvenanceStale marks last-known-good cached data served after
	// transient fetch failures exhausted their retries.
	ProvenanceStale Provenance = "stale"
)

// Bar is a single daily OHLCV bar.
type Bar struct {
	Symbol    string
	Date      time.Time // trading day as reported by the provider
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	VWAP      float64
}

// PriceSeries is an ordered sequence of daily bars for one symbol, tagged
// with the provenance of the data. Bars are sorted by date ascending and
// contain only trading days the provider actually reported.
type PriceSeries struct {
	Symbol     string
	Bars       []Bar
	Provenance Provenance
	// Reason explains a non-real provenance ("entitlement_denied",
	// "retries_exhausted"). Empty for real data.
	Reason string
}

// LastClose returns the most recent closing price in the series, or 0 if
// the series is empty.
func (ps PriceSeries) LastClose() float64 {
	if len(ps.Bars) == 0 {
		return 0
	}
	return ps.Bars[len(ps.Bars)-1].Close
}

// Dates returns the ordered trading days covered by the series.
func (ps PriceSeries) Dates() []time.Time {
	dates := make([]time.Time, len(ps.Bars))
	for i, b := range ps.Bars {
		dates[i] = b.Date
	}
	return dates
}

// StrategyParams holds the tunable execution parameters of a strategy.
type StrategyParams struct {
	ProfitTarget   float64 `json:"profit_target"`    // exit when pnl pct >= this (e.g. 5.0 = +500%)
	StopLoss       float64 `json:"stop_loss"`        // exit when pnl pct <= this (e.g. -0.5 = -50%)
	MaxHoldingDays int     `json:"max_holding_days"` // force exit after N calendar days
	PositionSize   float64 `json:"position_size"`    // fraction of equity per trade
	InitialCapital float64 `json:"initial_capital"`  // starting equity; defaults to 10000
	ExpiryDays     int     `json:"expiry_days"`      // option expiry horizon; defaults to 30
}

// StrategyDefinition is one tuned strategy for one symbol, as authored by
// the optimization tooling and stored in the strategy registry directory.
type StrategyDefinition struct {
	Name          string             `json:"name"`
	Symbol        string             `json:"symbol"`
	SignalWeights map[string]float64 `json:"signal_weights"`
	Params        StrategyParams     `json:"params"`
	// TotalReturn is the backtest performance recorded at authoring time,
	// used to pick the best strategy per symbol.
	TotalReturn float64 `json:"total_return"`
}

// TrackedSymbol is one symbol under live monitoring.
type TrackedSymbol struct {
	Symbol      string
	Strategy    StrategyDefinition
	LastUpdated time.Time // last successful refresh for this symbol
}

// TradeStatus is the lifecycle state of a simulated trade.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// Trade is a single simulated position opened and (usually) closed by the
// backtest.
type Trade struct {
	OpenDate   string      `json:"open_date"`            // YYYY-MM-DD
	CloseDate  string      `json:"close_date,omitempty"` // empty while open
	Strategy   string      `json:"strategy"`             // "long_call" or "long_put"
	Strike     float64     `json:"strike"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price,omitempty"`
	PnL        float64     `json:"pnl"`
	PnLPct     float64     `json:"pnl_pct"`
	ExitReason string      `json:"exit_reason,omitempty"`
	Status     TradeStatus `json:"status"`
}

// EquityPoint is one point on the equity curve. Date is always an actual
// trading day reported by the provider.
type EquityPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Value float64 `json:"value"`
}

// MonitorResult is the per-symbol output of one successful refresh:
// equity curve, trades, and summary metrics.
type MonitorResult struct {
	Symbol       string        `json:"symbol"`
	StrategyName string        `json:"strategy_name"`
	EquityCurve  []EquityPoint `json:"equity_curve"`
	Trades       []Trade       `json:"trades"`
	ReturnPct    float64       `json:"return_pct"`
	FinalValue   float64       `json:"final_value"`
	NumTrades    int           `json:"num_trades"`
	WinRate      float64       `json:"win_rate"`
	Estimated    bool          `json:"estimated"`
	// Source details where the price data came from ("real", "estimated",
	// "stale"); Estimated is kept as the coarse flag the UI keys off.
	Source      Provenance `json:"source"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// ResultArtifact is the single published document shared between the
// refresh pipeline (writer) and the serving process (readers). It is only
// ever replaced atomically as a whole.
type ResultArtifact struct {
	SchemaVersion int                      `json:"schema_version"`
	GeneratedAt   time.Time                `json:"generated_at"`
	StartDate     string                   `json:"monitor_start_date"`
	Results       map[string]MonitorResult `json:"results"`
	// PricingSources records, per symbol, which data path produced the
	// current entry and why a non-real path was taken.
	PricingSources map[string]PricingSourceState `json:"pricing_sources,omitempty"`
}

// CycleState tracks a refresh cycle through its lifecycle.
type CycleState string

const (
	CyclePending       CycleState = "PENDING"
	CycleFetching      CycleState = "FETCHING"
	CycleComputing     CycleState = "COMPUTING"
	CycleFallback      CycleState = "FALLBACK"
	CyclePublished     CycleState = "PUBLISHED"
	CyclePartialFailed CycleState = "PARTIAL_FAILED"
)

// OutcomeKind classifies what happened to one symbol within a cycle.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeEstimated OutcomeKind = "estimated"
	OutcomeStale     OutcomeKind = "stale"
	OutcomeFailed    OutcomeKind = "failed"
)

// SymbolOutcome is the per-symbol verdict of one cycle.
type SymbolOutcome struct {
	Symbol string
	Kind   OutcomeKind
	Err    string // error detail when Kind == OutcomeFailed
}

// CycleReport describes one execution of the refresh cycle.
type CycleReport struct {
	State    CycleState
	Start    time.Time
	End      time.Time
	Outcomes map[string]SymbolOutcome
}

// Counts returns how many symbols succeeded (including estimated/stale)
// and how many failed.
func (r *CycleReport) Counts() (ok, failed int) {
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeFailed {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed
}

// PricingSourceState records, per symbol, whether the most recent refresh
// had to leave the authoritative data path, and why.
type PricingSourceState struct {
	Symbol     string     `json:"symbol"`
	Source     Provenance `json:"source"`
	Reason     string     `json:"reason,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}
