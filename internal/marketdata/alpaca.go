package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	alpacadata "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stratmon/internal/domain"
	"stratmon/internal/util"
)

// Compile-time interface check.
var _ Fetcher = (*AlpacaFetcher)(nil)

// AlpacaFetcher fetches daily OHLCV bars from the Alpaca market-data API.
// Calls pass through a token-bucket rate limiter so a cycle over many
// symbols stays inside the provider quota.
type AlpacaFetcher struct {
	client  *alpacadata.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaFetcher creates an AlpacaFetcher with the given credentials. The
// timeout bounds each HTTP call; rateLimitPerMin caps provider calls.
func NewAlpacaFetcher(apiKey, apiSecret, dataURL string, rateLimitPerMin int, timeout time.Duration) *AlpacaFetcher {
	opts := alpacadata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaFetcher{
		client:  alpacadata.NewClient(opts),
		limiter: util.NewRateLimiter(rateLimitPerMin),
		log:     slog.Default().With("component", "alpaca-fetcher"),
	}
}

// Fetch returns daily bars for symbol within rng. Provider errors are
// classified: entitlement rejections surface as ErrEntitlementDenied, an
// empty window as ErrNoData.
func (f *AlpacaFetcher) Fetch(ctx context.Context, symbol string, rng Range) (domain.PriceSeries, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.PriceSeries{}, err
	}

	alpacaBars, err := f.client.GetBars(symbol, alpacadata.GetBarsRequest{
		TimeFrame: alpacadata.OneDay,
		Start:     rng.Start,
		End:       rng.End,
		Feed:      "sip",
	})
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("GetBars %s: %w", symbol, classifyFetchErr(err))
	}
	if len(alpacaBars) == 0 {
		return domain.PriceSeries{}, fmt.Errorf("%w: %s %s..%s", ErrNoData,
			symbol, rng.Start.Format("2006-01-02"), rng.End.Format("2006-01-02"))
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol: strings.ToUpper(symbol),
			Date:   ab.Timestamp.UTC().Truncate(24 * time.Hour),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
			VWAP:   ab.VWAP,
		})
	}

	return domain.PriceSeries{
		Symbol:     strings.ToUpper(symbol),
		Bars:       bars,
		Provenance: domain.ProvenanceReal,
	}, nil
}
