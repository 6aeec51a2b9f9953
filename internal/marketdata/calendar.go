package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// TradingCalendar reports which days the market actually traded. The
// fallback path uses it to build a date spine without ever inventing
// calendar-offset dates.
type TradingCalendar interface {
	TradingDays(start, end time.Time) ([]time.Time, error)
}

// Compile-time interface check.
var _ TradingCalendar = (*Calendar)(nil)

// Calendar resolves trading days via the Alpaca trading calendar endpoint.
// Responses are cached per requested window so repeated cycles within a day
// hit the provider once.
type Calendar struct {
	client *alpaca.Client

	mu    sync.Mutex
	cache map[string][]time.Time
}

// NewCalendar creates a Calendar using the given Alpaca credentials.
func NewCalendar(apiKey, apiSecret, baseURL string) *Calendar {
	return &Calendar{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		cache: make(map[string][]time.Time),
	}
}

// TradingDays returns the trading days within [start, end], ascending.
func (c *Calendar) TradingDays(start, end time.Time) ([]time.Time, error) {
	key := start.Format("2006-01-02") + "|" + end.Format("2006-01-02")

	c.mu.Lock()
	if days, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return days, nil
	}
	c.mu.Unlock()

	calendar, err := c.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	days := make([]time.Time, 0, len(calendar))
	for _, d := range calendar {
		t, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		days = append(days, t)
	}

	c.mu.Lock()
	c.cache[key] = days
	c.mu.Unlock()
	return days, nil
}
