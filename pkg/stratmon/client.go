// Package stratmon provides a Go SDK for the stratmon-server API.
package stratmon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Trade is a single simulated position from a backtest.
type Trade struct {
	OpenDate   string  `json:"open_date"`
	CloseDate  string  `json:"close_date,omitempty"`
	Strategy   string  `json:"strategy"`
	Strike     float64 `json:"strike"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price,omitempty"`
	PnL        float64 `json:"pnl"`
	PnLPct     float64 `json:"pnl_pct"`
	ExitReason string  `json:"exit_reason,omitempty"`
	Status     string  `json:"status"`
}

// EquityPoint is one point on an equity curve.
type EquityPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// MonitorResult is the per-symbol monitoring output.
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
	Source       string        `json:"source"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// PricingSourceState records which data path produced a symbol's entry.
type PricingSourceState struct {
	Symbol     string    `json:"symbol"`
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// MonitorResponse is the full published artifact.
type MonitorResponse struct {
	GeneratedAt    time.Time                     `json:"generated_at"`
	StartDate      string                        `json:"monitor_start_date"`
	Results        map[string]MonitorResult      `json:"results"`
	PricingSources map[string]PricingSourceState `json:"pricing_sources,omitempty"`
}

// SymbolResponse wraps a single symbol's result.
type SymbolResponse struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Result      MonitorResult `json:"result"`
}

// FreshnessResponse reports how current the published artifact is:
// "LIVE", "STALE", or "UNAVAILABLE".
type FreshnessResponse struct {
	Status         string     `json:"status"`
	GeneratedAt    *time.Time `json:"generated_at,omitempty"`
	AgeSeconds     *float64   `json:"age_seconds,omitempty"`
	ChangedSymbols []string   `json:"changed_symbols,omitempty"`
}

// CycleRecord is one recorded refresh cycle.
type CycleRecord struct {
	ID      int64     `json:"id"`
	State   string    `json:"state"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	OKCount int       `json:"ok_count"`
	Failed  int       `json:"failed_count"`
}

// CyclesResponse lists recent refresh cycles, newest first.
type CyclesResponse struct {
	Cycles []CycleRecord `json:"cycles"`
}

// RefreshResponse summarizes a manually triggered refresh cycle.
type RefreshResponse struct {
	State       string `json:"state"`
	OKCount     int    `json:"ok_count"`
	FailedCount int    `json:"failed_count"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

// Client talks to a running stratmon-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Monitor retrieves the full published monitoring artifact.
func (c *Client) Monitor(ctx context.Context) (*MonitorResponse, error) {
	var resp MonitorResponse
	if err := c.get(ctx, "/api/monitor", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Symbol retrieves the monitoring result for a single symbol.
func (c *Client) Symbol(ctx context.Context, symbol string) (*MonitorResult, error) {
	var resp SymbolResponse
	if err := c.get(ctx, "/api/monitor/"+url.PathEscape(symbol), &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// Freshness retrieves the artifact freshness classification.
func (c *Client) Freshness(ctx context.Context) (*FreshnessResponse, error) {
	var resp FreshnessResponse
	if err := c.get(ctx, "/api/freshness", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cycles retrieves up to limit recent refresh cycles, newest first.
func (c *Client) Cycles(ctx context.Context, limit int) (*CyclesResponse, error) {
	path := "/api/cycles"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp CyclesResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh triggers one refresh cycle and waits for it to finish. A 409
// means a cycle is already in flight or the replica has no scheduler.
func (c *Client) Refresh(ctx context.Context) (*RefreshResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/refresh", nil)
	if err != nil {
		return nil, err
	}
	var resp RefreshResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", req.Method, req.URL.Path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
