package strategy

import (
	"math"

	"stratmon/internal/domain"
)

const (
	bbWindow           = 20
	bbPercentileWindow = 60
	rsiPeriod          = 14
	atrPeriod          = 14
	volumeWindow       = 20
	momentumLookback   = 10

	// signalWarmup is the minimum index before any combined signal can
	// trigger, so every indicator has a full window behind it.
	signalWarmup = 50
)

// indicatorSet holds per-bar technical indicators, index-aligned with the
// input bars. Warmup slots are NaN.
type indicatorSet struct {
	closes       []float64
	sma20        []float64
	bbUpper      []float64
	bbLower      []float64
	bbWidth      []float64
	bbPercentile []float64
	rsi          []float64
	atr          []float64
	ma5          []float64
	ma50         []float64
	volumeRatio  []float64
	momentum     []float64
}

// computeIndicators derives the indicator set from a daily bar series.
func computeIndicators(bars []domain.Bar) *indicatorSet {
	n := len(bars)
	ind := &indicatorSet{
		closes:       make([]float64, n),
		bbUpper:      nanSlice(n),
		bbLower:      nanSlice(n),
		bbWidth:      nanSlice(n),
		bbPercentile: nanSlice(n),
		rsi:          nanSlice(n),
		atr:          nanSlice(n),
		volumeRatio:  nanSlice(n),
		momentum:     nanSlice(n),
	}

	volumes := make([]float64, n)
	for i, b := range bars {
		ind.closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	ind.sma20 = rollingMean(ind.closes, bbWindow)
	ind.ma5 = rollingMean(ind.closes, 5)
	ind.ma50 = rollingMean(ind.closes, 50)

	std := rollingStd(ind.closes, bbWindow)
	for i := 0; i < n; i++ {
		if math.IsNaN(ind.sma20[i]) || math.IsNaN(std[i]) || ind.sma20[i] == 0 {
			continue
		}
		ind.bbUpper[i] = ind.sma20[i] + 2*std[i]
		ind.bbLower[i] = ind.sma20[i] - 2*std[i]
		ind.bbWidth[i] = (ind.bbUpper[i] - ind.bbLower[i]) / ind.sma20[i]
	}

	// BB width percentile: fraction of the trailing window strictly below
	// the current width.
	for i := 0; i < n; i++ {
		if i < bbPercentileWindow-1 || math.IsNaN(ind.bbWidth[i]) {
			continue
		}
		ind.bbPercentile[i] = windowPercentile(ind.bbWidth, i, bbPercentileWindow)
	}

	computeRSI(ind, bars)
	computeATR(ind, bars)

	volMean := rollingMean(volumes, volumeWindow)
	for i := 0; i < n; i++ {
		if !math.IsNaN(volMean[i]) && volMean[i] > 0 {
			ind.volumeRatio[i] = volumes[i] / volMean[i]
		}
	}

	for i := momentumLookback; i < n; i++ {
		if ind.closes[i-momentumLookback] != 0 {
			ind.momentum[i] = ind.closes[i]/ind.closes[i-momentumLookback] - 1
		}
	}

	return ind
}

func computeRSI(ind *indicatorSet, bars []domain.Bar) {
	n := len(bars)
	gains := nanSlice(n)
	losses := nanSlice(n)
	for i := 1; i < n; i++ {
		delta := bars[i].Close - bars[i-1].Close
		gains[i], losses[i] = 0, 0
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	avgGain := rollingMean(gains, rsiPeriod)
	avgLoss := rollingMean(losses, rsiPeriod)
	for i := 0; i < n; i++ {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		switch {
		case g == 0 && l == 0:
			// Flat window; leave NaN like a 0/0 ratio.
		case l == 0:
			ind.rsi[i] = 100
		default:
			rs := g / l
			ind.rsi[i] = 100 - 100/(1+rs)
		}
	}
}

func computeATR(ind *indicatorSet, bars []domain.Bar) {
	n := len(bars)
	tr := nanSlice(n)
	for i := 0; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	copy(ind.atr, rollingMean(tr, atrPeriod))
}

// ---------------------------------------------------------------------------
// Rolling-window helpers
// ---------------------------------------------------------------------------

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// rollingMean computes a simple moving average. Slots before a full window,
// or windows containing NaN, are NaN.
func rollingMean(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	for i := window - 1; i < len(values); i++ {
		sum, ok := 0.0, true
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				ok = false
				break
			}
			sum += values[j]
		}
		if ok {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// rollingStd computes the sample standard deviation over a trailing window.
func rollingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	means := rollingMean(values, window)
	for i := window - 1; i < len(values); i++ {
		if math.IsNaN(means[i]) {
			continue
		}
		var sq float64
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - means[i]
			sq += d * d
		}
		out[i] = math.Sqrt(sq / float64(window-1))
	}
	return out
}

// windowPercentile returns the fraction of the trailing window strictly
// below values[i].
func windowPercentile(values []float64, i, window int) float64 {
	lo := i - window + 1
	if lo < 0 {
		lo = 0
	}
	count, total := 0, 0
	for j := lo; j <= i; j++ {
		if math.IsNaN(values[j]) {
			continue
		}
		total++
		if values[j] < values[i] {
			count++
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(count) / float64(total)
}
