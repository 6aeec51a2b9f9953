package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stratmon/internal/domain"
)

func artifactPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "monitor_results.json")
}

func sampleResult(symbol string, gen time.Time) domain.MonitorResult {
	return domain.MonitorResult{
		Symbol:       symbol,
		StrategyName: symbol + "-best",
		EquityCurve: []domain.EquityPoint{
			{Date: "2024-06-03", Value: 10000},
			{Date: "2024-06-04", Value: 10050},
		},
		ReturnPct:   0.5,
		FinalValue:  10050,
		Source:      domain.ProvenanceReal,
		GeneratedAt: gen,
	}
}

func TestArtifactPublishAndLoad(t *testing.T) {
	as := NewArtifactStore(artifactPath(t))

	if _, err := as.Load(); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("Load before publish returned %v, want ErrNoArtifact", err)
	}

	now := time.Now().UTC()
	artifact := &domain.ResultArtifact{
		GeneratedAt: now,
		StartDate:   "2024-06-03",
		Results: map[string]domain.MonitorResult{
			"BABA": sampleResult("BABA", now),
		},
	}
	if err := as.Publish(artifact); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := as.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.SchemaVersion != domain.ArtifactSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", got.SchemaVersion, domain.ArtifactSchemaVersion)
	}
	if got.StartDate != "2024-06-03" {
		t.Errorf("StartDate = %q, want 2024-06-03", got.StartDate)
	}
	if _, ok := got.Results["BABA"]; !ok {
		t.Error("BABA result missing after round trip")
	}
}

func TestArtifactNoTempFilesLeftBehind(t *testing.T) {
	path := artifactPath(t)
	as := NewArtifactStore(path)

	for i := 0; i < 5; i++ {
		artifact := &domain.ResultArtifact{
			Results: map[string]domain.MonitorResult{"X": sampleResult("X", time.Now().UTC())},
		}
		if err := as.Publish(artifact); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestArtifactGeneratedAtMonotonic(t *testing.T) {
	as := NewArtifactStore(artifactPath(t))

	later := time.Now().UTC().Add(time.Hour)
	if err := as.Publish(&domain.ResultArtifact{GeneratedAt: later}); err != nil {
		t.Fatalf("first Publish failed: %v", err)
	}

	earlier := later.Add(-30 * time.Minute)
	if err := as.Publish(&domain.ResultArtifact{GeneratedAt: earlier}); err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}

	got, err := as.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.GeneratedAt.Before(later) {
		t.Errorf("GeneratedAt moved backwards: %v < %v", got.GeneratedAt, later)
	}
}

func TestArtifactConcurrentReadersDuringPublish(t *testing.T) {
	as := NewArtifactStore(artifactPath(t))
	if err := as.Publish(&domain.ResultArtifact{
		Results: map[string]domain.MonitorResult{"X": sampleResult("X", time.Now().UTC())},
	}); err != nil {
		t.Fatalf("seed Publish failed: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// A fresh store bypasses the in-memory cache and reads
				// the file, so a torn write would surface here.
				got, err := NewArtifactStore(as.Path()).Load()
				if err != nil {
					t.Errorf("reader saw broken artifact: %v", err)
					return
				}
				if got.SchemaVersion != domain.ArtifactSchemaVersion {
					t.Errorf("reader saw schema %d", got.SchemaVersion)
					return
				}
			}
		}()
	}

	for i := 0; i < 30; i++ {
		if err := as.Publish(&domain.ResultArtifact{
			Results: map[string]domain.MonitorResult{"X": sampleResult("X", time.Now().UTC())},
		}); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
}

func TestMergeCarryForward(t *testing.T) {
	gen := time.Now().UTC()
	prev := &domain.ResultArtifact{
		StartDate: "2024-06-03",
		Results: map[string]domain.MonitorResult{
			"BABA": sampleResult("BABA", gen.Add(-time.Hour)),
			"NVDA": sampleResult("NVDA", gen.Add(-time.Hour)),
		},
	}
	fresh := map[string]domain.MonitorResult{
		"BABA": sampleResult("BABA", gen),
	}

	next := mergeCarryForward(prev, fresh, "2024-06-03")

	if len(next.Results) != 2 {
		t.Fatalf("merged artifact has %d results, want 2", len(next.Results))
	}
	if !next.Results["BABA"].GeneratedAt.Equal(gen) {
		t.Error("fresh BABA result not applied")
	}

	// The carried-forward entry must serialize byte-identically to its
	// previous form.
	prevJSON, _ := json.Marshal(prev.Results["NVDA"])
	nextJSON, _ := json.Marshal(next.Results["NVDA"])
	if string(prevJSON) != string(nextJSON) {
		t.Errorf("carried-forward NVDA entry changed:\nprev: %s\nnext: %s", prevJSON, nextJSON)
	}
}

func TestArtifactReadThroughCache(t *testing.T) {
	as := NewArtifactStore(artifactPath(t))
	if err := as.Publish(&domain.ResultArtifact{
		Results: map[string]domain.MonitorResult{"X": sampleResult("X", time.Now().UTC())},
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	first, err := as.Load()
	if err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	second, err := as.Load()
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if first != second {
		t.Error("unchanged file should serve the cached parse")
	}
}
