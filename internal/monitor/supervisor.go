package monitor

import (
	"log/slog"
	"time"
)

// Supervisor owns the scheduler's lifecycle inside the serving process. A
// replica with the scheduler disabled serves the shared artifact without
// refreshing it; a scheduler that fails to start degrades the process to
// serving-only instead of killing it.
type Supervisor struct {
	scheduler *Scheduler
	enabled   bool

	started  bool
	degraded bool
	log      *slog.Logger
}

// NewSupervisor wraps the scheduler. When enabled is false the scheduler is
// never started.
func NewSupervisor(scheduler *Scheduler, enabled bool) *Supervisor {
	return &Supervisor{
		scheduler: scheduler,
		enabled:   enabled,
		log:       slog.Default().With("component", "supervisor"),
	}
}

// Start launches the background refresh role if enabled. Start never
// returns an error: a failed scheduler start is logged and flips the
// supervisor into degraded mode.
func (s *Supervisor) Start() {
	if !s.enabled {
		s.log.Info("scheduler disabled, serving-only replica")
		return
	}
	if s.scheduler == nil {
		s.degraded = true
		s.log.Error("no scheduler constructed, running degraded")
		return
	}
	if err := s.scheduler.Start(); err != nil {
		s.degraded = true
		s.log.Error("scheduler start failed, running degraded", "err", err)
		return
	}
	s.started = true
}

// Degraded reports whether the refresh role failed to come up.
func (s *Supervisor) Degraded() bool { return s.degraded }

// Scheduler returns the supervised scheduler, or nil when disabled.
func (s *Supervisor) Scheduler() *Scheduler {
	if !s.enabled {
		return nil
	}
	return s.scheduler
}

// Shutdown stops the scheduler, waiting up to grace for an in-flight cycle.
// A cycle that overruns the grace is abandoned and logged.
func (s *Supervisor) Shutdown(grace time.Duration) {
	if !s.started {
		return
	}
	if err := s.scheduler.Stop(grace); err != nil {
		s.log.Error("scheduler shutdown overran grace", "err", err)
		return
	}
	s.started = false
}
