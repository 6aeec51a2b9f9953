package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"stratmon/internal/domain"
	"stratmon/internal/marketdata"
	"stratmon/internal/store"
	"stratmon/internal/strategy"
)

// ErrCycleRunning is returned when a one-shot refresh is requested while a
// cycle is already in flight.
var ErrCycleRunning = errors.New("refresh cycle already running")

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Registry  *strategy.Registry
	Fetcher   marketdata.Fetcher
	Artifacts *ArtifactStore
	History   store.HistoryStore // optional

	StartDate  time.Time // first day of the monitored window
	Interval   time.Duration
	MaxWorkers int
}

// Scheduler runs the refresh cycle on a fixed cadence. Cycles are
// single-flight: a tick that fires while the previous cycle is still
// running is skipped and logged, never queued.
type Scheduler struct {
	registry  *strategy.Registry
	fetcher   marketdata.Fetcher
	artifacts *ArtifactStore
	history   store.HistoryStore

	startDate  time.Time
	interval   time.Duration
	maxWorkers int

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	log     *slog.Logger
}

// NewScheduler validates the options and builds a Scheduler.
func NewScheduler(o SchedulerOptions) (*Scheduler, error) {
	if o.Registry == nil || o.Fetcher == nil || o.Artifacts == nil {
		return nil, fmt.Errorf("scheduler requires registry, fetcher, and artifact store")
	}
	if o.Interval < time.Minute {
		return nil, fmt.Errorf("refresh interval %s too short, need >= 1m", o.Interval)
	}
	if o.MaxWorkers < 1 {
		o.MaxWorkers = 4
	}
	return &Scheduler{
		registry:   o.Registry,
		fetcher:    o.Fetcher,
		artifacts:  o.Artifacts,
		history:    o.History,
		startDate:  o.StartDate,
		interval:   o.Interval,
		maxWorkers: o.MaxWorkers,
		log:        slog.Default().With("component", "scheduler"),
	}, nil
}

// Running reports whether a cycle is currently in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Start runs one cycle immediately, then repeats every interval. Overlapping
// ticks are skipped.
func (s *Scheduler) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	clog := cronLogger{log: s.log}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(clog),
		cron.Recover(clog),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.cycleJob); err != nil {
		s.cancel()
		return fmt.Errorf("registering refresh job: %w", err)
	}
	s.cron = c

	go s.cycleJob()
	c.Start()
	s.log.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop cancels the in-flight cycle and waits up to grace for it to finish.
func (s *Scheduler) Stop(grace time.Duration) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	var stopped <-chan struct{}
	if s.cron != nil {
		stopped = s.cron.Stop().Done()
	} else {
		ch := make(chan struct{})
		close(ch)
		stopped = ch
	}

	done := make(chan struct{})
	go func() {
		<-stopped
		for s.running.Load() {
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-time.After(grace):
		return fmt.Errorf("refresh cycle did not finish within %s", grace)
	}
}

// RunOnce executes exactly one refresh cycle. It fails fast with
// ErrCycleRunning when a cycle is already in flight.
func (s *Scheduler) RunOnce(ctx context.Context) (*domain.CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer s.running.Store(false)
	return s.runCycle(ctx)
}

// cycleJob is the cron entry point. A cycle failure is logged, never fatal.
func (s *Scheduler) cycleJob() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("refresh cycle still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	report, err := s.runCycle(s.ctx)
	if err != nil {
		s.log.Error("refresh cycle failed", "err", err)
		return
	}
	ok, failed := report.Counts()
	s.log.Info("refresh cycle finished",
		"state", report.State,
		"ok", ok,
		"failed", failed,
		"elapsed", report.End.Sub(report.Start).Round(time.Millisecond),
	)
}

// runCycle fetches, recomputes, and publishes one refresh of every tracked
// symbol. Per-symbol failures are isolated: they mark the symbol failed and
// leave its previous artifact entry carried forward.
func (s *Scheduler) runCycle(ctx context.Context) (*domain.CycleReport, error) {
	report := &domain.CycleReport{
		State:    domain.CyclePending,
		Start:    time.Now().UTC(),
		Outcomes: make(map[string]domain.SymbolOutcome),
	}
	defer func() {
		report.End = time.Now().UTC()
		s.recordHistory(report)
	}()

	defs, err := s.registry.Load()
	if err != nil {
		return report, fmt.Errorf("loading strategies: %w", err)
	}
	if len(defs) == 0 {
		s.log.Warn("no strategies loaded, nothing to refresh")
		return report, nil
	}

	report.State = domain.CycleFetching
	rng := marketdata.Range{Start: s.startDate, End: time.Now().UTC()}

	var (
		mu           sync.Mutex
		fresh        = make(map[string]domain.MonitorResult)
		sources      = make(map[string]domain.PricingSourceState)
		usedFallback bool
	)

	symbolCh := make(chan string, len(defs))
	for sym := range defs {
		symbolCh <- sym
	}
	close(symbolCh)

	var wg sync.WaitGroup
	workers := s.maxWorkers
	if workers > len(defs) {
		workers = len(defs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symbolCh {
				if ctx.Err() != nil {
					return
				}
				result, source, outcome := s.refreshSymbol(ctx, sym, defs[sym], rng)
				mu.Lock()
				report.Outcomes[sym] = outcome
				if outcome.Kind != domain.OutcomeFailed {
					fresh[sym] = result
					sources[sym] = source
					if outcome.Kind != domain.OutcomeSuccess {
						usedFallback = true
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	if usedFallback {
		report.State = domain.CycleFallback
	} else {
		report.State = domain.CycleComputing
	}

	ok, failed := report.Counts()
	if ok == 0 {
		report.State = domain.CyclePartialFailed
		return report, fmt.Errorf("all %d symbols failed, keeping previous artifact", failed)
	}

	prev, err := s.artifacts.Load()
	if err != nil && !errors.Is(err, ErrNoArtifact) {
		return report, fmt.Errorf("loading previous artifact: %w", err)
	}

	next := mergeCarryForward(prev, fresh, s.startDate.Format("2006-01-02"))
	for sym, source := range sources {
		next.PricingSources[sym] = source
	}
	next.GeneratedAt = time.Now().UTC()
	if err := s.artifacts.Publish(next); err != nil {
		report.State = domain.CyclePartialFailed
		return report, fmt.Errorf("publishing artifact: %w", err)
	}

	if failed > 0 {
		report.State = domain.CyclePartialFailed
	} else {
		report.State = domain.CyclePublished
	}
	return report, nil
}

// refreshSymbol fetches and recomputes one symbol. Panics are contained so
// a bad symbol cannot take the cycle down.
func (s *Scheduler) refreshSymbol(ctx context.Context, symbol string, def domain.StrategyDefinition, rng marketdata.Range) (result domain.MonitorResult, source domain.PricingSourceState, outcome domain.SymbolOutcome) {
	outcome = domain.SymbolOutcome{Symbol: symbol, Kind: domain.OutcomeFailed}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("symbol refresh panicked", "symbol", symbol, "panic", r)
			outcome = domain.SymbolOutcome{
				Symbol: symbol,
				Kind:   domain.OutcomeFailed,
				Err:    fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	series, err := s.fetcher.Fetch(ctx, symbol, rng)
	if err != nil {
		s.log.Warn("fetch failed", "symbol", symbol, "err", err)
		outcome.Err = err.Error()
		return result, source, outcome
	}

	result, err = strategy.Run(series, def)
	if err != nil {
		s.log.Warn("backtest failed", "symbol", symbol, "err", err)
		outcome.Err = err.Error()
		return result, source, outcome
	}
	result.GeneratedAt = time.Now().UTC()

	source = domain.PricingSourceState{
		Symbol:     symbol,
		Source:     series.Provenance,
		Reason:     series.Reason,
		ObservedAt: result.GeneratedAt,
	}

	switch series.Provenance {
	case domain.ProvenanceEstimated:
		outcome.Kind = domain.OutcomeEstimated
	case domain.ProvenanceStale:
		outcome.Kind = domain.OutcomeStale
	default:
		outcome.Kind = domain.OutcomeSuccess
	}
	outcome.Err = ""
	return result, source, outcome
}

func (s *Scheduler) recordHistory(report *domain.CycleReport) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordCycle(context.Background(), report); err != nil {
		s.log.Error("recording cycle history failed", "err", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface so skipped ticks and
// recovered panics land in the structured log.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Info(msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, append(kv, "err", err)...)
}
