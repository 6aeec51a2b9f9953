package monitor

import (
	"testing"
	"time"
)

func TestSupervisorDisabled(t *testing.T) {
	fetcher := &scriptedFetcher{}
	sched, _ := newTestScheduler(t, fetcher, writeStrategies(t, "BABA"))

	sup := NewSupervisor(sched, false)
	sup.Start()

	if sup.Degraded() {
		t.Error("disabled supervisor should not be degraded")
	}
	if sup.Scheduler() != nil {
		t.Error("disabled supervisor should expose no scheduler")
	}
	// Shutdown of a never-started supervisor is a no-op.
	sup.Shutdown(time.Second)
}

func TestSupervisorDegradedWithoutScheduler(t *testing.T) {
	sup := NewSupervisor(nil, true)
	sup.Start()

	if !sup.Degraded() {
		t.Error("supervisor without a scheduler should run degraded")
	}
	sup.Shutdown(time.Second)
}

func TestSupervisorStartAndShutdown(t *testing.T) {
	fetcher := &blockingFetcher{started: make(chan struct{})}
	sched, _ := newTestScheduler(t, fetcher, writeStrategies(t, "BABA"))

	sup := NewSupervisor(sched, true)
	sup.Start()
	if sup.Degraded() {
		t.Fatal("supervisor degraded after clean start")
	}
	<-fetcher.started

	start := time.Now()
	sup.Shutdown(2 * time.Second)
	if time.Since(start) > 2*time.Second {
		t.Error("Shutdown exceeded grace")
	}
	if sched.Running() {
		t.Error("cycle still running after Shutdown")
	}
}
