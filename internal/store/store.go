// Package store persists the pipeline's durable state: the last-known-good
// bar cache backing stale fallback, and the refresh-cycle history.
package store

import (
	"context"
	"time"

	"stratmon/internal/domain"
)

// BarStore persists and retrieves daily OHLCV bars. The monitor writes every
// successfully fetched series here so later cycles can fall back to cached
// data when the provider is unreachable.
type BarStore interface {
	// WriteBars persists a batch of bars, merging with any already stored.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end],
	// sorted by date ascending.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with cached bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// CycleRecord is one stored refresh-cycle execution.
type CycleRecord struct {
	ID       int64                  `json:"id"`
	State    domain.CycleState      `json:"state"`
	Start    time.Time              `json:"start"`
	End      time.Time              `json:"end"`
	OKCount  int                    `json:"ok_count"`
	Failed   int                    `json:"failed_count"`
	Outcomes []domain.SymbolOutcome `json:"outcomes,omitempty"`
}

// HistoryStore records refresh-cycle executions for operational inspection.
type HistoryStore interface {
	// RecordCycle persists the report of a finished cycle.
	RecordCycle(ctx context.Context, report *domain.CycleReport) error

	// RecentCycles returns up to limit most recent cycles, newest first,
	// including their per-symbol outcomes.
	RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error)
}
