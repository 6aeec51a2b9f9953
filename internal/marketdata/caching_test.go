package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"stratmon/internal/domain"
	"stratmon/internal/store"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// fakeFetcher returns a scripted result per call.
type fakeFetcher struct {
	series domain.PriceSeries
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, _ Range) (domain.PriceSeries, error) {
	f.calls++
	if f.err != nil {
		return domain.PriceSeries{}, f.err
	}
	return f.series, nil
}

// fakeCalendar returns a fixed set of trading days.
type fakeCalendar struct {
	days []time.Time
}

func (f *fakeCalendar) TradingDays(start, end time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range f.days {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func testRange() Range {
	return Range{Start: day("2024-06-03"), End: day("2024-06-07")}
}

func TestCachingFetcherWriteThrough(t *testing.T) {
	ctx := context.Background()
	bars := store.NewParquetStore(t.TempDir())

	inner := &fakeFetcher{series: domain.PriceSeries{
		Symbol: "BABA",
		Bars: []domain.Bar{
			{Symbol: "BABA", Date: day("2024-06-03"), Close: 79.5},
			{Symbol: "BABA", Date: day("2024-06-04"), Close: 80.2},
		},
	}}
	cf := NewCachingFetcher(inner, bars, nil, 3, 0)

	got, err := cf.Fetch(ctx, "BABA", testRange())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.Provenance != domain.ProvenanceReal {
		t.Errorf("Provenance = %s, want real", got.Provenance)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}

	// Write-through: the cache now holds the bars.
	cached, err := bars.ReadBars(ctx, "BABA", day("2024-06-01"), day("2024-06-30"))
	if err != nil {
		t.Fatalf("ReadBars failed: %v", err)
	}
	if len(cached) != 2 {
		t.Errorf("cache holds %d bars, want 2", len(cached))
	}
}

func TestCachingFetcherStaleFallback(t *testing.T) {
	ctx := context.Background()
	bars := store.NewParquetStore(t.TempDir())

	// Seed last-known-good data.
	seed := []domain.Bar{
		{Symbol: "NVDA", Date: day("2024-06-03"), Close: 120},
		{Symbol: "NVDA", Date: day("2024-06-04"), Close: 121},
	}
	if err := bars.WriteBars(ctx, seed); err != nil {
		t.Fatalf("seeding cache failed: %v", err)
	}

	inner := &fakeFetcher{err: errors.New("connection reset")}
	cf := NewCachingFetcher(inner, bars, nil, 3, 0)

	got, err := cf.Fetch(ctx, "NVDA", testRange())
	if err != nil {
		t.Fatalf("Fetch should fall back to cache, got error: %v", err)
	}
	if got.Provenance != domain.ProvenanceStale {
		t.Errorf("Provenance = %s, want stale", got.Provenance)
	}
	if got.Reason != "retries_exhausted" {
		t.Errorf("Reason = %q, want retries_exhausted", got.Reason)
	}
	if len(got.Bars) != 2 {
		t.Errorf("stale series has %d bars, want 2", len(got.Bars))
	}
	if inner.calls != 3 {
		t.Errorf("transient error retried %d times, want 3", inner.calls)
	}
}

func TestCachingFetcherEntitlementDenied(t *testing.T) {
	ctx := context.Background()
	bars := store.NewParquetStore(t.TempDir())

	seed := []domain.Bar{
		{Symbol: "NVDA", Date: day("2024-06-03"), Close: 120},
	}
	if err := bars.WriteBars(ctx, seed); err != nil {
		t.Fatalf("seeding cache failed: %v", err)
	}

	inner := &fakeFetcher{err: ErrEntitlementDenied}
	cal := &fakeCalendar{days: []time.Time{
		day("2024-06-04"), day("2024-06-05"), day("2024-06-06"), day("2024-06-07"),
	}}
	cf := NewCachingFetcher(inner, bars, cal, 3, 0)

	got, err := cf.Fetch(ctx, "NVDA", testRange())
	if err != nil {
		t.Fatalf("Fetch should produce estimated series, got error: %v", err)
	}
	if got.Provenance != domain.ProvenanceEstimated {
		t.Errorf("Provenance = %s, want estimated", got.Provenance)
	}
	if got.Reason != "entitlement_denied" {
		t.Errorf("Reason = %q, want entitlement_denied", got.Reason)
	}
	// No retries on entitlement failure.
	if inner.calls != 1 {
		t.Errorf("entitlement error retried %d times, want 1", inner.calls)
	}
	// One cached bar + four flat-extended calendar days.
	if len(got.Bars) != 5 {
		t.Fatalf("estimated series has %d bars, want 5", len(got.Bars))
	}
	for _, b := range got.Bars[1:] {
		if b.Close != 120 {
			t.Errorf("extended bar %s close = %v, want flat 120", b.Date.Format("2006-01-02"), b.Close)
		}
	}
}

func TestCachingFetcherNoFallback(t *testing.T) {
	bars := store.NewParquetStore(t.TempDir())
	inner := &fakeFetcher{err: errors.New("timeout")}
	cf := NewCachingFetcher(inner, bars, nil, 2, 0)

	_, err := cf.Fetch(context.Background(), "EMPTY", testRange())
	if err == nil {
		t.Fatal("Fetch with no cached fallback should fail")
	}
}

func TestClassifyFetchErr(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		entitlement bool
	}{
		{"subscription message", errors.New(`{"message": "subscription does not permit querying recent SIP data"}`), true},
		{"forbidden", errors.New("request failed: 403 Forbidden"), true},
		{"timeout", errors.New("context deadline exceeded"), false},
		{"server error", errors.New("500 internal server error"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyFetchErr(tc.err)
			if errors.Is(got, ErrEntitlementDenied) != tc.entitlement {
				t.Errorf("classifyFetchErr(%v) entitlement = %v, want %v",
					tc.err, !tc.entitlement, tc.entitlement)
			}
		})
	}
}
