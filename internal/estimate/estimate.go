// Package estimate provides an analytic option-value estimator used when the
// market-data provider denies access to real option quotes. It is a
// deliberately simple intrinsic-plus-time-value model, not Black-Scholes:
// results derived from it are always tagged as estimated.
package estimate

import "math"

// OptionType selects the payoff direction of the estimated contract.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// minTimeValue is the floor applied to the time-value component of any
// unexpired contract.
const minTimeValue = 0.05

// OptionValue estimates the fair value of a single option contract from the
// underlying price alone.
//
// The model is intrinsic value plus a decayed time value: the base time value
// is 1.5% of the underlying per 30 days to expiry, discounted exponentially
// by moneyness so far out-of-the-money contracts are worth less. Expired
// contracts carry intrinsic value only.
func OptionValue(stockPrice, strike float64, typ OptionType, daysToExpiry int) float64 {
	var intrinsic float64
	switch typ {
	case Put:
		intrinsic = math.Max(strike-stockPrice, 0)
	default:
		intrinsic = math.Max(stockPrice-strike, 0)
	}

	if daysToExpiry <= 0 || stockPrice <= 0 {
		return intrinsic
	}

	moneyness := math.Abs(stockPrice-strike) / stockPrice
	baseTime := stockPrice * 0.015 * (float64(daysToExpiry) / 30.0)
	timeValue := baseTime * math.Exp(-moneyness*5)
	if timeValue < minTimeValue {
		timeValue = minTimeValue
	}

	return intrinsic + timeValue
}
