// Package httpapi exposes the published monitoring results over an HTTP
// REST API: the full artifact, per-symbol results, freshness status, cycle
// history, and a manual refresh trigger.
package httpapi

import (
	"time"

	"stratmon/internal/domain"
	"stratmon/internal/monitor"
	"stratmon/internal/store"
)

// MonitorResponse is the top-level JSON response for the monitor endpoint.
type MonitorResponse struct {
	GeneratedAt    time.Time                            `json:"generated_at"`
	StartDate      string                               `json:"monitor_start_date"`
	Results        map[string]domain.MonitorResult      `json:"results"`
	PricingSources map[string]domain.PricingSourceState `json:"pricing_sources,omitempty"`
}

// SymbolResponse wraps a single symbol's result.
type SymbolResponse struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Result      domain.MonitorResult `json:"result"`
}

// FreshnessResponse reports how current the published artifact is.
type FreshnessResponse struct {
	Status      monitor.Freshness `json:"status"`
	GeneratedAt *time.Time        `json:"generated_at,omitempty"`
	AgeSeconds  *float64          `json:"age_seconds,omitempty"`
	// ChangedSymbols holds the symbols refreshed by the most recently
	// observed artifact change.
	ChangedSymbols []string `json:"changed_symbols,omitempty"`
}

// CyclesResponse lists recent refresh cycles, newest first.
type CyclesResponse struct {
	Cycles []store.CycleRecord `json:"cycles"`
}

// RefreshResponse summarizes a manually triggered refresh cycle.
type RefreshResponse struct {
	State       domain.CycleState `json:"state"`
	OKCount     int               `json:"ok_count"`
	FailedCount int               `json:"failed_count"`
	ElapsedMS   int64             `json:"elapsed_ms"`
}
