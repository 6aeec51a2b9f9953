package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stratmon/internal/config"
	"stratmon/internal/domain"
	"stratmon/internal/httpapi"
	"stratmon/internal/marketdata"
	"stratmon/internal/monitor"
	"stratmon/internal/store"
	"stratmon/internal/strategy"
	"stratmon/internal/util"
)

func main() {
	cfgPath := "config/stratmon.yaml"
	if p := os.Getenv("STRATMON_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	startDate, err := monitorStartDate(cfg)
	if err != nil {
		log.Fatalf("invalid monitor.start_date: %v", err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	artifacts := monitor.NewArtifactStore(cfg.Storage.ArtifactPath)

	var history store.HistoryStore
	if cfg.Storage.HistoryPath != "" {
		h, err := store.NewSQLiteHistory(cfg.Storage.HistoryPath)
		if err != nil {
			log.Fatalf("opening cycle history db: %v", err)
		}
		defer h.Close()
		history = h
	}

	var sched *monitor.Scheduler
	if cfg.SchedulerEnabled() {
		alpaca := marketdata.NewAlpacaFetcher(
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL,
			cfg.Monitor.RateLimitPerMin,
			cfg.FetchTimeout(),
		)
		calendar := marketdata.NewCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		fetcher := marketdata.NewCachingFetcher(alpaca, pstore, calendar, cfg.Monitor.RetryAttempts, time.Second)

		sched, err = monitor.NewScheduler(monitor.SchedulerOptions{
			Registry:   strategy.NewRegistry(cfg.Monitor.StrategiesDir),
			Fetcher:    fetcher,
			Artifacts:  artifacts,
			History:    history,
			StartDate:  startDate,
			Interval:   cfg.RefreshInterval(),
			MaxWorkers: cfg.Monitor.MaxWorkers,
		})
		if err != nil {
			// The supervisor treats a missing scheduler as degraded; the
			// server still serves whatever artifact exists.
			logger.Error("building scheduler failed", "err", err)
		}
	}

	// run_once mode executes a single refresh cycle and exits instead of
	// serving, so an operator or cron job can reuse the server config.
	if cfg.Monitor.RunOnce {
		if sched == nil {
			log.Fatalf("monitor.run_once requires an enabled, working scheduler")
		}
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		report, err := sched.RunOnce(ctx)
		if err != nil {
			log.Fatalf("refresh cycle failed: %v", err)
		}
		ok, failed := report.Counts()
		logger.Info("refresh cycle finished", "state", report.State, "ok", ok, "failed", failed)
		if report.State == domain.CyclePartialFailed {
			os.Exit(1)
		}
		return
	}

	supervisor := monitor.NewSupervisor(sched, cfg.SchedulerEnabled())
	supervisor.Start()

	poller := monitor.NewFreshnessPoller(
		artifacts,
		time.Duration(cfg.Poller.IntervalSecs)*time.Second,
		cfg.LiveBound(),
	)
	if cfg.PollerEnabled() {
		poller.Start()
	}

	srv := httpapi.NewMonitorServer(artifacts, poller, supervisor, history, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("stratmon-server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if cfg.PollerEnabled() {
		poller.Stop()
	}
	supervisor.Shutdown(cfg.ShutdownGrace())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	logger.Info("stratmon-server stopped")
}

// monitorStartDate resolves the first day of the monitored window. Unset
// falls back to 90 days before today.
func monitorStartDate(cfg *config.Config) (time.Time, error) {
	if cfg.Monitor.StartDate == "" {
		return time.Now().UTC().AddDate(0, 0, -90), nil
	}
	return time.Parse("2006-01-02", cfg.Monitor.StartDate)
}
