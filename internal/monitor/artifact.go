// Package monitor implements the refresh pipeline core: the published
// result artifact, the periodic refresh scheduler, the consumer-side
// freshness poller, and the process supervisor tying them together.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stratmon/internal/domain"
)

// ErrNoArtifact means no artifact has been published yet.
var ErrNoArtifact = errors.New("no result artifact published")

// ArtifactStore owns the single published artifact file. Writers replace it
// atomically; readers go through an in-memory cache invalidated by file
// mtime, so a poll-heavy serving process does not re-parse an unchanged
// file.
type ArtifactStore struct {
	path string

	mu          sync.Mutex
	cached      *domain.ResultArtifact
	cachedMtime time.Time
}

// NewArtifactStore creates an ArtifactStore for the given file path.
func NewArtifactStore(path string) *ArtifactStore {
	return &ArtifactStore{path: path}
}

// Path returns the artifact file path.
func (s *ArtifactStore) Path() string { return s.path }

// Mtime returns the artifact file's modification time, or ErrNoArtifact.
func (s *ArtifactStore) Mtime() (time.Time, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ErrNoArtifact
		}
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Load returns the current artifact. The parsed form is cached and reused
// until the file's mtime changes.
func (s *ArtifactStore) Load() (*domain.ResultArtifact, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoArtifact
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && fi.ModTime().Equal(s.cachedMtime) {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var artifact domain.ResultArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parsing artifact %s: %w", s.path, err)
	}

	s.cached = &artifact
	s.cachedMtime = fi.ModTime()
	return s.cached, nil
}

// Publish atomically replaces the artifact: marshal to a temp file in the
// same directory, flush to disk, then rename over the target. A reader
// never observes a partial file. The artifact-level generated_at never
// moves backwards relative to the previous artifact.
func (s *ArtifactStore) Publish(artifact *domain.ResultArtifact) error {
	artifact.SchemaVersion = domain.ArtifactSchemaVersion
	if artifact.GeneratedAt.IsZero() {
		artifact.GeneratedAt = time.Now().UTC()
	}

	if prev, err := s.Load(); err == nil && artifact.GeneratedAt.Before(prev.GeneratedAt) {
		artifact.GeneratedAt = prev.GeneratedAt
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling artifact: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	s.mu.Lock()
	s.cached = artifact
	if fi, serr := os.Stat(s.path); serr == nil {
		s.cachedMtime = fi.ModTime()
	}
	s.mu.Unlock()
	return nil
}

// mergeCarryForward builds the next artifact from the previous one plus the
// fresh per-symbol results. Symbols absent from fresh keep their previous
// entry untouched, so a failed refresh never erases the last good result.
func mergeCarryForward(prev *domain.ResultArtifact, fresh map[string]domain.MonitorResult, startDate string) *domain.ResultArtifact {
	next := &domain.ResultArtifact{
		SchemaVersion:  domain.ArtifactSchemaVersion,
		StartDate:      startDate,
		Results:        make(map[string]domain.MonitorResult),
		PricingSources: make(map[string]domain.PricingSourceState),
	}
	if prev != nil {
		for sym, res := range prev.Results {
			next.Results[sym] = res
		}
		for sym, st := range prev.PricingSources {
			next.PricingSources[sym] = st
		}
		if next.StartDate == "" {
			next.StartDate = prev.StartDate
		}
	}
	for sym, res := range fresh {
		next.Results[sym] = res
	}
	return next
}
