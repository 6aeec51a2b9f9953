package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stratmon/internal/domain"
	"stratmon/internal/store"
	"stratmon/internal/util"
)

// Compile-time interface check.
var _ Fetcher = (*CachingFetcher)(nil)

// CachingFetcher decorates a Fetcher with the degradation ladder:
//
//   - Success: bars are written through to the cache and served as real.
//   - Transient failure: retried with backoff; when retries are exhausted,
//     cached bars for the window are served tagged stale.
//   - Entitlement denied: no retry. An estimated series is synthesized from
//     the cached bars, flat-extended over the remaining trading days from
//     the calendar at the last known close, tagged estimated.
//
// Date spines always come from cached provider dates or the trading
// calendar, never from calendar-offset arithmetic.
type CachingFetcher struct {
	inner    Fetcher
	bars     store.BarStore
	calendar TradingCalendar

	attempts  int
	baseDelay time.Duration
	log       *slog.Logger
}

// NewCachingFetcher wraps inner with cache write-through and fallback reads.
func NewCachingFetcher(inner Fetcher, bars store.BarStore, calendar TradingCalendar, attempts int, baseDelay time.Duration) *CachingFetcher {
	if attempts < 1 {
		attempts = 1
	}
	return &CachingFetcher{
		inner:     inner,
		bars:      bars,
		calendar:  calendar,
		attempts:  attempts,
		baseDelay: baseDelay,
		log:       slog.Default().With("component", "caching-fetcher"),
	}
}

// Fetch implements Fetcher with the fallback behaviour described on the
// type. A symbol with no real data, no cached data, and no usable fallback
// returns an error; the caller isolates that failure.
func (c *CachingFetcher) Fetch(ctx context.Context, symbol string, rng Range) (domain.PriceSeries, error) {
	var series domain.PriceSeries
	err := util.Retry(ctx, c.attempts, c.baseDelay, func() error {
		s, ferr := c.inner.Fetch(ctx, symbol, rng)
		if ferr != nil {
			if errors.Is(ferr, ErrEntitlementDenied) || errors.Is(ferr, ErrNoData) {
				return util.Permanent(ferr)
			}
			return ferr
		}
		series = s
		return nil
	})

	if err == nil {
		if werr := c.bars.WriteBars(ctx, series.Bars); werr != nil {
			// Cache write failure degrades future fallbacks but must not
			// fail a successful fetch.
			c.log.Warn("bar cache write failed", "symbol", symbol, "err", werr)
		}
		series.Provenance = domain.ProvenanceReal
		return series, nil
	}

	if errors.Is(err, ErrEntitlementDenied) {
		return c.estimatedSeries(ctx, symbol, rng, err)
	}

	return c.staleSeries(ctx, symbol, rng, err)
}

// staleSeries serves last-known-good cached bars after transient retries
// are exhausted.
func (c *CachingFetcher) staleSeries(ctx context.Context, symbol string, rng Range, cause error) (domain.PriceSeries, error) {
	cached, rerr := c.bars.ReadBars(ctx, symbol, rng.Start, rng.End)
	if rerr != nil || len(cached) == 0 {
		return domain.PriceSeries{}, fmt.Errorf("fetch %s failed with no cached fallback: %w", symbol, cause)
	}

	c.log.Warn("serving stale cached bars",
		"symbol", symbol,
		"bars", len(cached),
		"cause", cause,
	)
	return domain.PriceSeries{
		Symbol:     symbol,
		Bars:       cached,
		Provenance: domain.ProvenanceStale,
		Reason:     "retries_exhausted",
	}, nil
}

// estimatedSeries builds a series for an entitlement-denied symbol: cached
// bars form the base, and trading days past the last cached date are filled
// flat at the last known close.
func (c *CachingFetcher) estimatedSeries(ctx context.Context, symbol string, rng Range, cause error) (domain.PriceSeries, error) {
	cached, rerr := c.bars.ReadBars(ctx, symbol, rng.Start, rng.End)
	if rerr != nil || len(cached) == 0 {
		return domain.PriceSeries{}, fmt.Errorf("entitlement denied for %s with no cached reference price: %w", symbol, cause)
	}

	bars := cached
	last := cached[len(cached)-1]

	if c.calendar != nil && last.Date.Before(rng.End) {
		days, derr := c.calendar.TradingDays(last.Date.AddDate(0, 0, 1), rng.End)
		if derr != nil {
			c.log.Warn("calendar lookup failed, estimating on cached dates only",
				"symbol", symbol, "err", derr)
		}
		for _, d := range days {
			bars = append(bars, domain.Bar{
				Symbol: symbol,
				Date:   d,
				Open:   last.Close,
				High:   last.Close,
				Low:    last.Close,
				Close:  last.Close,
			})
		}
	}

	c.log.Warn("serving estimated series",
		"symbol", symbol,
		"cached", len(cached),
		"extended", len(bars)-len(cached),
	)
	return domain.PriceSeries{
		Symbol:     symbol,
		Bars:       bars,
		Provenance: domain.ProvenanceEstimated,
		Reason:     "entitlement_denied",
	}, nil
}
