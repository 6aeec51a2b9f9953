package monitor

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Freshness classifies how current the published artifact is from a
// consumer's point of view.
type Freshness string

const (
	// FreshnessLive means the artifact was generated within the live bound.
	FreshnessLive Freshness = "LIVE"
	// FreshnessStale means an artifact exists but its age exceeds the live
	// bound (scheduler wedged, disabled, or falling behind).
	FreshnessStale Freshness = "STALE"
	// FreshnessUnavailable means no readable artifact exists.
	FreshnessUnavailable Freshness = "UNAVAILABLE"
)

// UpdateEvent is broadcast to subscribers when the artifact changes or its
// freshness classification flips.
type UpdateEvent struct {
	Status      Freshness `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	// ChangedSymbols lists symbols whose per-symbol generated_at advanced
	// since the last observation. Empty on pure classification flips.
	ChangedSymbols []string `json:"changed_symbols,omitempty"`
}

// FreshnessPoller watches the artifact file on its own cadence, independent
// of the refresh interval. It uses mtime as the cheap change marker and the
// artifact's generated_at timestamps as the authoritative delta source.
type FreshnessPoller struct {
	artifacts *ArtifactStore
	interval  time.Duration
	liveBound time.Duration
	log       *slog.Logger

	mu          sync.Mutex
	subs        map[chan UpdateEvent]struct{}
	lastMtime   time.Time
	lastGen     map[string]time.Time
	lastChanged []string
	status      Freshness
	generatedAt time.Time

	stop chan struct{}
	done chan struct{}
}

// NewFreshnessPoller creates a poller checking the artifact every interval
// and classifying anything older than liveBound as stale.
func NewFreshnessPoller(artifacts *ArtifactStore, interval, liveBound time.Duration) *FreshnessPoller {
	return &FreshnessPoller{
		artifacts: artifacts,
		interval:  interval,
		liveBound: liveBound,
		log:       slog.Default().With("component", "freshness-poller"),
		subs:      make(map[chan UpdateEvent]struct{}),
		lastGen:   make(map[string]time.Time),
	}
}

// Start launches the poll loop. The first poll runs immediately.
func (p *FreshnessPoller) Start() {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.poll()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.poll()
			}
		}
	}()
	p.log.Info("freshness poller started", "interval", p.interval, "liveBound", p.liveBound)
}

// Stop terminates the poll loop and waits for it to exit.
func (p *FreshnessPoller) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.log.Info("freshness poller stopped")
}

// Status returns the current classification and the artifact generated_at
// it is based on.
func (p *FreshnessPoller) Status() (Freshness, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == "" {
		return FreshnessUnavailable, time.Time{}
	}
	return p.status, p.generatedAt
}

// LastChanged returns the symbols whose results advanced in the most
// recently observed artifact change.
func (p *FreshnessPoller) LastChanged() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lastChanged...)
}

// Subscribe registers a channel receiving update events. Slow subscribers
// drop events rather than block the poller.
func (p *FreshnessPoller) Subscribe() chan UpdateEvent {
	ch := make(chan UpdateEvent, 8)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (p *FreshnessPoller) Unsubscribe(ch chan UpdateEvent) {
	p.mu.Lock()
	delete(p.subs, ch)
	p.mu.Unlock()
}

// poll performs one observation of the artifact.
func (p *FreshnessPoller) poll() {
	now := time.Now().UTC()

	mtime, err := p.artifacts.Mtime()
	if err != nil {
		if !errors.Is(err, ErrNoArtifact) {
			p.log.Warn("artifact stat failed", "err", err)
		}
		p.transition(FreshnessUnavailable, time.Time{}, nil)
		return
	}

	p.mu.Lock()
	changed := !mtime.Equal(p.lastMtime)
	gen := p.generatedAt
	p.mu.Unlock()

	var changedSymbols []string
	if changed {
		artifact, err := p.artifacts.Load()
		if err != nil {
			p.log.Warn("artifact load failed", "err", err)
			p.transition(FreshnessUnavailable, time.Time{}, nil)
			return
		}
		gen = artifact.GeneratedAt

		p.mu.Lock()
		for sym, res := range artifact.Results {
			if res.GeneratedAt.After(p.lastGen[sym]) {
				changedSymbols = append(changedSymbols, sym)
				p.lastGen[sym] = res.GeneratedAt
			}
		}
		p.lastMtime = mtime
		p.mu.Unlock()
		sort.Strings(changedSymbols)
	}

	age := now.Sub(gen)
	if gen.IsZero() {
		age = now.Sub(mtime)
	}
	status := FreshnessLive
	if age > p.liveBound {
		status = FreshnessStale
	}

	p.transition(status, gen, changedSymbols)
}

// transition records the new observation and broadcasts when the artifact
// changed or the classification flipped.
func (p *FreshnessPoller) transition(status Freshness, gen time.Time, changedSymbols []string) {
	p.mu.Lock()
	notify := status != p.status || len(changedSymbols) > 0
	p.status = status
	p.generatedAt = gen
	if len(changedSymbols) > 0 {
		p.lastChanged = changedSymbols
	}

	var targets []chan UpdateEvent
	if notify {
		targets = make([]chan UpdateEvent, 0, len(p.subs))
		for ch := range p.subs {
			targets = append(targets, ch)
		}
	}
	p.mu.Unlock()

	if !notify {
		return
	}
	event := UpdateEvent{Status: status, GeneratedAt: gen, ChangedSymbols: changedSymbols}
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			// Subscriber not keeping up, drop.
		}
	}
}
