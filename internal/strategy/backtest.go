// Package strategy loads tuned strategy definitions and replays them over a
// price series through a deterministic options backtest.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"stratmon/internal/domain"
	"stratmon/internal/estimate"
)

// ErrInsufficientData means the series is too short to backtest at all.
var ErrInsufficientData = errors.New("insufficient price history for backtest")

const (
	// entryThreshold is the minimum combined signal score to open a trade.
	entryThreshold = 0.3
	// minBars is the minimum series length accepted by Run. It sits below
	// signalWarmup: a 20-49 bar series runs but cannot trigger entries, so
	// it yields a flat zero-trade curve instead of an error.
	minBars = 20
	// contractMultiplier is shares per option contract.
	contractMultiplier = 100
)

// openPosition tracks an open trade with the simulation detail that does not
// belong in the published Trade record.
type openPosition struct {
	trade     domain.Trade
	shares    int
	expiry    time.Time
	openedAt  time.Time
	optionTyp estimate.OptionType
}

// Run replays the strategy definition over the series and returns the
// monitoring result: equity curve, trades, and summary metrics.
//
// Run is a pure function of its inputs: same series and definition, same
// result. The equity curve carries exactly one point per input bar, so its
// dates are provider-reported trading days in strictly increasing order.
func Run(series domain.PriceSeries, def domain.StrategyDefinition) (domain.MonitorResult, error) {
	bars := series.Bars
	if len(bars) < minBars {
		return domain.MonitorResult{}, fmt.Errorf("%w: %s has %d bars, need %d",
			ErrInsufficientData, series.Symbol, len(bars), minBars)
	}

	params := applyParamDefaults(def.Params)
	capital := params.InitialCapital

	ind := computeIndicators(bars)

	var (
		trades []domain.Trade
		open   *openPosition
		curve  = make([]domain.EquityPoint, 0, len(bars))
	)

	for i, bar := range bars {
		// Mark-to-market equity for this bar.
		equity := capital
		if open != nil {
			value := estimate.OptionValue(bar.Close, open.trade.Strike, open.optionTyp, daysBetween(bar.Date, open.expiry))
			equity += (value - open.trade.EntryPrice) * float64(open.shares) * contractMultiplier
		}
		curve = append(curve, domain.EquityPoint{
			Date:  bar.Date.Format("2006-01-02"),
			Value: round2(equity),
		})

		// Exits before entries: a position never opens and closes on the
		// same bar.
		if open != nil {
			if reason, ok := shouldExit(open, bar, params); ok {
				capital += closePosition(open, bar, daysBetween(bar.Date, open.expiry), reason)
				trades = append(trades, open.trade)
				open = nil
			}
		}

		if open == nil {
			score, direction := evaluateSignals(def.SignalWeights, ind, i)
			if score >= entryThreshold {
				open = enterPosition(bar, direction, capital, params)
			}
		}
	}

	// Force-close anything still open at the last bar.
	if open != nil {
		last := bars[len(bars)-1]
		capital += closePosition(open, last, 0, "end_of_data")
		trades = append(trades, open.trade)
	}

	return buildResult(series, def, trades, curve, capital, params), nil
}

func applyParamDefaults(p domain.StrategyParams) domain.StrategyParams {
	if p.InitialCapital == 0 {
		p.InitialCapital = 10000
	}
	if p.PositionSize == 0 {
		p.PositionSize = 0.1
	}
	if p.MaxHoldingDays == 0 {
		p.MaxHoldingDays = 30
	}
	if p.ExpiryDays == 0 {
		p.ExpiryDays = 30
	}
	if p.ProfitTarget == 0 {
		p.ProfitTarget = 5.0
	}
	if p.StopLoss == 0 {
		p.StopLoss = -0.5
	}
	return p
}

func enterPosition(bar domain.Bar, direction string, capital float64, params domain.StrategyParams) *openPosition {
	typ := estimate.Call
	strikeMult := 1.08 // 8% OTM
	if direction == directionLongPut {
		typ = estimate.Put
		strikeMult = 0.92
	}
	strike := roundStrike(bar.Close * strikeMult)

	premium := estimate.OptionValue(bar.Close, strike, typ, params.ExpiryDays)
	positionValue := capital * params.PositionSize
	shares := int(positionValue / (premium * contractMultiplier))
	if shares == 0 {
		shares = 1
	}

	return &openPosition{
		trade: domain.Trade{
			OpenDate:   bar.Date.Format("2006-01-02"),
			Strategy:   direction,
			Strike:     strike,
			EntryPrice: premium,
			Status:     domain.TradeStatusOpen,
		},
		shares:    shares,
		expiry:    bar.Date.AddDate(0, 0, params.ExpiryDays),
		openedAt:  bar.Date,
		optionTyp: typ,
	}
}

// shouldExit checks the exit ladder: profit target, stop loss, max holding
// period, expiry.
func shouldExit(open *openPosition, bar domain.Bar, params domain.StrategyParams) (string, bool) {
	daysToExpiry := daysBetween(bar.Date, open.expiry)
	value := estimate.OptionValue(bar.Close, open.trade.Strike, open.optionTyp, daysToExpiry)
	pnlPct := (value - open.trade.EntryPrice) / open.trade.EntryPrice

	if pnlPct >= params.ProfitTarget {
		return "profit_target", true
	}
	if pnlPct <= params.StopLoss {
		return "stop_loss", true
	}
	if daysBetween(open.openedAt, bar.Date) >= params.MaxHoldingDays {
		return "max_holding", true
	}
	if daysToExpiry <= 0 {
		return "expiry", true
	}
	return "", false
}

// closePosition settles the trade at the given bar and returns the realized
// pnl to add to capital.
func closePosition(open *openPosition, bar domain.Bar, daysToExpiry int, reason string) float64 {
	exitPrice := estimate.OptionValue(bar.Close, open.trade.Strike, open.optionTyp, daysToExpiry)
	pnl := (exitPrice - open.trade.EntryPrice) * float64(open.shares) * contractMultiplier

	open.trade.CloseDate = bar.Date.Format("2006-01-02")
	open.trade.ExitPrice = exitPrice
	open.trade.PnL = round2(pnl)
	open.trade.PnLPct = (exitPrice - open.trade.EntryPrice) / open.trade.EntryPrice
	open.trade.ExitReason = reason
	open.trade.Status = domain.TradeStatusClosed
	return pnl
}

func buildResult(series domain.PriceSeries, def domain.StrategyDefinition, trades []domain.Trade, curve []domain.EquityPoint, capital float64, params domain.StrategyParams) domain.MonitorResult {
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}

	return domain.MonitorResult{
		Symbol:       series.Symbol,
		StrategyName: def.Name,
		EquityCurve:  curve,
		Trades:       trades,
		ReturnPct:    round2((capital - params.InitialCapital) / params.InitialCapital * 100),
		FinalValue:   round2(capital),
		NumTrades:    len(trades),
		WinRate:      winRate,
		Estimated:    series.Provenance == domain.ProvenanceEstimated,
		Source:       series.Provenance,
	}
}

// roundStrike snaps a raw strike to the increments option chains actually
// list at each price level.
func roundStrike(price float64) float64 {
	switch {
	case price < 10:
		return math.Round(price*2) / 2
	case price < 50:
		return math.Round(price)
	case price < 100:
		return math.Round(price/5) * 5
	default:
		return math.Round(price/10) * 10
	}
}

// daysBetween returns whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
