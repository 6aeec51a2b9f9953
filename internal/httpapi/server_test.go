package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stratmon/internal/domain"
	"stratmon/internal/marketdata"
	"stratmon/internal/monitor"
	"stratmon/internal/store"
	"stratmon/internal/strategy"
)

// stubFetcher serves canned series and can optionally block until released,
// to hold a refresh cycle open.
type stubFetcher struct {
	series  map[string]domain.PriceSeries
	block   chan struct{}
	started chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, symbol string, _ marketdata.Range) (domain.PriceSeries, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.PriceSeries{}, ctx.Err()
		}
	}
	s, ok := f.series[symbol]
	if !ok {
		return domain.PriceSeries{}, marketdata.ErrNoData
	}
	return s, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []store.CycleRecord
}

func (h *fakeHistory) RecordCycle(_ context.Context, report *domain.CycleReport) error {
	ok, failed := report.Counts()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, store.CycleRecord{
		ID:      int64(len(h.records) + 1),
		State:   report.State,
		Start:   report.Start,
		End:     report.End,
		OKCount: ok,
		Failed:  failed,
	})
	return nil
}

func (h *fakeHistory) RecentCycles(_ context.Context, limit int) ([]store.CycleRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]store.CycleRecord, 0, limit)
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.records[i])
	}
	return out, nil
}

func risingBars(symbol string, n int) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for len(bars) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			bars = append(bars, domain.Bar{
				Symbol: symbol,
				Date:   day,
				Open:   price,
				High:   price * 1.01,
				Low:    price * 0.99,
				Close:  price,
				Volume: 1_000_000,
				VWAP:   price,
			})
			price += 0.2
		}
		day = day.AddDate(0, 0, 1)
	}
	return bars
}

func writeStrategyDir(t *testing.T, symbols ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, sym := range symbols {
		doc := map[string]any{
			"name":           sym + "-test",
			"signal_weights": map[string]float64{"rsi_oversold": 1.0},
			"params": map[string]any{
				"profit_target":    5.0,
				"stop_loss":        -0.5,
				"max_holding_days": 30,
				"position_size":    0.1,
			},
			"backtest_performance": map[string]any{"total_return": 1.0},
		}
		data, err := json.Marshal(doc)
		if err != nil {
			t.Fatalf("marshaling strategy: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, sym+"_test.json"), data, 0o644); err != nil {
			t.Fatalf("writing strategy file: %v", err)
		}
	}
	return dir
}

func newTestServer(t *testing.T, fetcher marketdata.Fetcher, enabled bool, history store.HistoryStore) (*MonitorServer, *monitor.ArtifactStore, *monitor.Scheduler) {
	t.Helper()

	as := monitor.NewArtifactStore(filepath.Join(t.TempDir(), "monitor_results.json"))
	sched, err := monitor.NewScheduler(monitor.SchedulerOptions{
		Registry:   strategy.NewRegistry(writeStrategyDir(t, "BABA")),
		Fetcher:    fetcher,
		Artifacts:  as,
		History:    history,
		StartDate:  time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		Interval:   time.Minute,
		MaxWorkers: 2,
	})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	sup := monitor.NewSupervisor(sched, enabled)
	poller := monitor.NewFreshnessPoller(as, 10*time.Millisecond, time.Minute)
	srv := NewMonitorServer(as, poller, sup, history, slog.Default())
	return srv, as, sched
}

func doRequest(srv *MonitorServer, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func publishSample(t *testing.T, as *monitor.ArtifactStore, symbols ...string) time.Time {
	t.Helper()
	gen := time.Now().UTC()
	results := make(map[string]domain.MonitorResult)
	for _, sym := range symbols {
		results[sym] = domain.MonitorResult{
			Symbol:       sym,
			StrategyName: sym + "-test",
			EquityCurve:  []domain.EquityPoint{{Date: "2024-06-03", Value: 10000}},
			FinalValue:   10000,
			Source:       domain.ProvenanceReal,
			GeneratedAt:  gen,
		}
	}
	if err := as.Publish(&domain.ResultArtifact{
		GeneratedAt: gen,
		StartDate:   "2024-06-03",
		Results:     results,
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	return gen
}

func TestMonitorEndpoint(t *testing.T) {
	srv, as, _ := newTestServer(t, &stubFetcher{}, true, nil)
	publishSample(t, as, "BABA", "NVDA")

	rec := doRequest(srv, http.MethodGet, "/api/monitor")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/monitor = %d, want 200", rec.Code)
	}

	var resp MonitorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("got %d results, want 2", len(resp.Results))
	}
	if resp.StartDate != "2024-06-03" {
		t.Errorf("StartDate = %q, want 2024-06-03", resp.StartDate)
	}
}

func TestMonitorEndpointNoArtifact(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFetcher{}, true, nil)

	rec := doRequest(srv, http.MethodGet, "/api/monitor")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/monitor without artifact = %d, want 404", rec.Code)
	}
}

func TestSymbolEndpoint(t *testing.T) {
	srv, as, _ := newTestServer(t, &stubFetcher{}, true, nil)
	publishSample(t, as, "BABA")

	// Lowercase path resolves to the uppercase symbol.
	rec := doRequest(srv, http.MethodGet, "/api/monitor/baba")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/monitor/baba = %d, want 200", rec.Code)
	}
	var resp SymbolResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Result.Symbol != "BABA" {
		t.Errorf("Symbol = %q, want BABA", resp.Result.Symbol)
	}

	rec = doRequest(srv, http.MethodGet, "/api/monitor/TSLA")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown symbol = %d, want 404", rec.Code)
	}
}

func TestFreshnessEndpoint(t *testing.T) {
	srv, as, _ := newTestServer(t, &stubFetcher{}, true, nil)

	rec := doRequest(srv, http.MethodGet, "/api/freshness")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/freshness = %d, want 200", rec.Code)
	}
	var resp FreshnessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != monitor.FreshnessUnavailable {
		t.Errorf("Status = %s, want UNAVAILABLE before any poll", resp.Status)
	}

	publishSample(t, as, "BABA")
	srv.poller.Start()
	defer srv.poller.Stop()
	time.Sleep(50 * time.Millisecond)

	rec = doRequest(srv, http.MethodGet, "/api/freshness")
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != monitor.FreshnessLive {
		t.Errorf("Status = %s, want LIVE", resp.Status)
	}
	if resp.GeneratedAt == nil || resp.AgeSeconds == nil {
		t.Error("LIVE response missing generated_at or age_seconds")
	}
	if len(resp.ChangedSymbols) != 1 || resp.ChangedSymbols[0] != "BABA" {
		t.Errorf("changed symbols = %v, want [BABA]", resp.ChangedSymbols)
	}
}

func TestCyclesEndpoint(t *testing.T) {
	history := &fakeHistory{}
	fetcher := &stubFetcher{series: map[string]domain.PriceSeries{
		"BABA": {Symbol: "BABA", Bars: risingBars("BABA", 80), Provenance: domain.ProvenanceReal},
	}}
	srv, _, sched := newTestServer(t, fetcher, true, history)

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	rec := doRequest(srv, http.MethodGet, "/api/cycles")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/cycles = %d, want 200", rec.Code)
	}
	var resp CyclesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Cycles) != 1 {
		t.Fatalf("got %d cycles, want 1", len(resp.Cycles))
	}
	if resp.Cycles[0].State != domain.CyclePublished {
		t.Errorf("cycle state = %s, want PUBLISHED", resp.Cycles[0].State)
	}

	rec = doRequest(srv, http.MethodGet, "/api/cycles?limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET /api/cycles?limit=0 = %d, want 400", rec.Code)
	}
}

func TestCyclesEndpointNoHistory(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFetcher{}, true, nil)

	rec := doRequest(srv, http.MethodGet, "/api/cycles")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/cycles = %d, want 200", rec.Code)
	}
	var resp CyclesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Cycles) != 0 {
		t.Errorf("got %d cycles without a history store, want 0", len(resp.Cycles))
	}
}

func TestRefreshEndpoint(t *testing.T) {
	fetcher := &stubFetcher{series: map[string]domain.PriceSeries{
		"BABA": {Symbol: "BABA", Bars: risingBars("BABA", 80), Provenance: domain.ProvenanceReal},
	}}
	srv, as, _ := newTestServer(t, fetcher, true, nil)

	rec := doRequest(srv, http.MethodPost, "/api/refresh")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/refresh = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp RefreshResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.State != domain.CyclePublished {
		t.Errorf("State = %s, want PUBLISHED", resp.State)
	}
	if resp.OKCount != 1 || resp.FailedCount != 0 {
		t.Errorf("counts = %d ok / %d failed, want 1/0", resp.OKCount, resp.FailedCount)
	}

	if _, err := as.Load(); err != nil {
		t.Errorf("artifact missing after refresh: %v", err)
	}
}

func TestRefreshEndpointSchedulerDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFetcher{}, false, nil)

	rec := doRequest(srv, http.MethodPost, "/api/refresh")
	if rec.Code != http.StatusConflict {
		t.Errorf("POST /api/refresh on disabled replica = %d, want 409", rec.Code)
	}
}

func TestRefreshEndpointRejectsOverlap(t *testing.T) {
	fetcher := &stubFetcher{
		series: map[string]domain.PriceSeries{
			"BABA": {Symbol: "BABA", Bars: risingBars("BABA", 80), Provenance: domain.ProvenanceReal},
		},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	srv, _, sched := newTestServer(t, fetcher, true, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.RunOnce(context.Background())
	}()
	<-fetcher.started

	rec := doRequest(srv, http.MethodPost, "/api/refresh")
	if rec.Code != http.StatusConflict {
		t.Errorf("POST /api/refresh during a cycle = %d, want 409", rec.Code)
	}

	close(fetcher.block)
	<-done
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubFetcher{}, true, nil)

	rec := doRequest(srv, http.MethodOptions, "/api/monitor")
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}
