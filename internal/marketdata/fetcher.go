// Package marketdata fetches daily price series from the Alpaca market-data
// API, classifies provider failures, and layers a cache-backed fallback on
// top so a refresh cycle can degrade instead of failing outright.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"stratmon/internal/domain"
)

// ErrEntitlementDenied marks a provider response saying the account is not
// entitled to the requested data (free tier hitting the SIP feed). Retrying
// cannot help.
var ErrEntitlementDenied = errors.New("entitlement denied by provider")

// ErrNoData marks an empty provider response for the requested window.
var ErrNoData = errors.New("no bars returned for symbol")

// Range is a closed date interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// Fetcher retrieves the daily price series for one symbol.
type Fetcher interface {
	// Fetch returns daily bars for symbol within rng, sorted by date
	// ascending. Returns ErrEntitlementDenied, ErrNoData, or a transient
	// error as appropriate.
	Fetch(ctx context.Context, symbol string, rng Range) (domain.PriceSeries, error)
}

// classifyFetchErr maps a raw provider error onto the package sentinels.
// Entitlement failures (403, subscription-tier rejections) become
// ErrEntitlementDenied; everything else passes through as transient.
func classifyFetchErr(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 403 {
			return fmt.Errorf("%w: %s", ErrEntitlementDenied, apiErr.Message)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "subscription") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "403") {
		return fmt.Errorf("%w: %v", ErrEntitlementDenied, err)
	}

	return err
}
