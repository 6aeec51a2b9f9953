package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stratmon/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ HistoryStore = (*SQLiteHistory)(nil)

// SQLiteHistory implements HistoryStore backed by a SQLite database.
type SQLiteHistory struct {
	db *sql.DB
}

const historySchema = `
CREATE TABLE IF NOT EXISTS cycles (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	state         TEXT    NOT NULL,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL,
	ok_count      INTEGER NOT NULL,
	failed_count  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cycle_symbols (
	cycle_id  INTEGER NOT NULL REFERENCES cycles(id),
	symbol    TEXT    NOT NULL,
	kind      TEXT    NOT NULL,
	error     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cycle_symbols_cycle ON cycle_symbols(cycle_id);
`

// NewSQLiteHistory opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use SQLiteHistory.
func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}
	return &SQLiteHistory{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}

// RecordCycle persists the report of a finished cycle together with its
// per-symbol outcomes.
func (s *SQLiteHistory) RecordCycle(ctx context.Context, report *domain.CycleReport) error {
	ok, failed := report.Counts()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO cycles (state, started_at, finished_at, ok_count, failed_count)
		 VALUES (?, ?, ?, ?, ?)`,
		string(report.State), report.Start.UnixMilli(), report.End.UnixMilli(), ok, failed)
	if err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}
	cycleID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, o := range report.Outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cycle_symbols (cycle_id, symbol, kind, error) VALUES (?, ?, ?, ?)`,
			cycleID, o.Symbol, string(o.Kind), o.Err); err != nil {
			return fmt.Errorf("inserting outcome for %s: %w", o.Symbol, err)
		}
	}

	return tx.Commit()
}

// RecentCycles returns up to limit most recent cycles, newest first.
func (s *SQLiteHistory) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, started_at, finished_at, ok_count, failed_count
		 FROM cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var r CycleRecord
		var state string
		var startMs, endMs int64
		if err := rows.Scan(&r.ID, &state, &startMs, &endMs, &r.OKCount, &r.Failed); err != nil {
			return nil, err
		}
		r.State = domain.CycleState(state)
		r.Start = time.UnixMilli(startMs).UTC()
		r.End = time.UnixMilli(endMs).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		outcomes, err := s.cycleOutcomes(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Outcomes = outcomes
	}
	return records, nil
}

func (s *SQLiteHistory) cycleOutcomes(ctx context.Context, cycleID int64) ([]domain.SymbolOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, kind, error FROM cycle_symbols WHERE cycle_id = ? ORDER BY symbol`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.SymbolOutcome
	for rows.Next() {
		var o domain.SymbolOutcome
		var kind string
		if err := rows.Scan(&o.Symbol, &kind, &o.Err); err != nil {
			return nil, err
		}
		o.Kind = domain.OutcomeKind(kind)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
