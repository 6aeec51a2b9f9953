package strategy

import "math"

// Entry directions produced by signal evaluation.
const (
	directionLongCall = "long_call"
	directionLongPut  = "long_put"
)

var bullishSignals = map[string]bool{
	"rsi_oversold":      true,
	"ma_crossover":      true,
	"momentum_reversal": true,
}

var bearishSignals = map[string]bool{
	"rsi_overbought": true,
	"ma_crossunder":  true,
}

// detectSignal evaluates one named signal at index idx and returns whether
// it triggered and its strength in [0, 1]. Unknown names never trigger.
func detectSignal(name string, ind *indicatorSet, idx int) (bool, float64) {
	if idx < signalWarmup {
		return false, 0
	}

	switch name {
	case "bb_compression":
		p := ind.bbPercentile[idx]
		if !math.IsNaN(p) && p < 0.3 {
			return true, 1 - p
		}

	case "rsi_oversold":
		r := ind.rsi[idx]
		if !math.IsNaN(r) && r < 30 {
			return true, (30 - r) / 30
		}

	case "rsi_overbought":
		r := ind.rsi[idx]
		if !math.IsNaN(r) && r > 70 {
			return true, (r - 70) / 30
		}

	case "volume_surge":
		vr := ind.volumeRatio[idx]
		if !math.IsNaN(vr) && vr > 1.5 {
			return true, math.Min((vr-1.5)/1.5, 1)
		}

	case "ma_crossover":
		if crossed(ind.ma5, ind.sma20, idx, true) {
			return true, math.Abs(ind.ma5[idx]-ind.sma20[idx]) / ind.sma20[idx]
		}

	case "ma_crossunder":
		if crossed(ind.ma5, ind.sma20, idx, false) {
			return true, math.Abs(ind.ma5[idx]-ind.sma20[idx]) / ind.sma20[idx]
		}

	case "price_above_ma50":
		m := ind.ma50[idx]
		if !math.IsNaN(m) && m > 0 && ind.closes[idx] > m {
			return true, math.Min((ind.closes[idx]-m)/m, 1)
		}

	case "low_volatility":
		p := windowPercentile(ind.atr, idx, bbPercentileWindow)
		if !math.IsNaN(ind.atr[idx]) && p < 0.3 {
			return true, 1 - p
		}

	case "momentum_reversal":
		m, prev := ind.momentum[idx], ind.momentum[idx-1]
		if !math.IsNaN(m) && !math.IsNaN(prev) && m*prev < 0 {
			return true, math.Min(math.Abs(m), 1)
		}
	}

	return false, 0
}

// evaluateSignals scores a weighted signal combination at index idx and
// picks a direction from the bullish/bearish contributions. Ties fall back
// to RSI: below 50 leans bullish.
func evaluateSignals(weights map[string]float64, ind *indicatorSet, idx int) (score float64, direction string) {
	var bullish, bearish float64

	for name, weight := range weights {
		triggered, strength := detectSignal(name, ind, idx)
		if !triggered {
			continue
		}
		contribution := weight * strength
		score += contribution
		if bullishSignals[name] {
			bullish += contribution
		}
		if bearishSignals[name] {
			bearish += contribution
		}
	}

	switch {
	case bullish > bearish:
		direction = directionLongCall
	case bearish > bullish:
		direction = directionLongPut
	default:
		r := ind.rsi[idx]
		if math.IsNaN(r) || r < 50 {
			direction = directionLongCall
		} else {
			direction = directionLongPut
		}
	}
	return score, direction
}

// crossed reports whether fast crossed over (up=true) or under (up=false)
// slow at index idx.
func crossed(fast, slow []float64, idx int, up bool) bool {
	if idx == 0 {
		return false
	}
	f, s := fast[idx], slow[idx]
	pf, ps := fast[idx-1], slow[idx-1]
	if math.IsNaN(f) || math.IsNaN(s) || math.IsNaN(pf) || math.IsNaN(ps) || s == 0 {
		return false
	}
	if up {
		return f > s && pf <= ps
	}
	return f < s && pf >= ps
}
