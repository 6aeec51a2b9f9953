// stratmon-refresh runs exactly one refresh cycle and exits. It shares the
// server's configuration so a cron job or operator shell can regenerate the
// artifact without a long-running scheduler.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"stratmon/internal/config"
	"stratmon/internal/domain"
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

	startDate := time.Now().UTC().AddDate(0, 0, -90)
	if cfg.Monitor.StartDate != "" {
		startDate, err = time.Parse("2006-01-02", cfg.Monitor.StartDate)
		if err != nil {
			log.Fatalf("invalid monitor.start_date: %v", err)
		}
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

	alpaca := marketdata.NewAlpacaFetcher(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		cfg.Monitor.RateLimitPerMin,
		cfg.FetchTimeout(),
	)
	calendar := marketdata.NewCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	fetcher := marketdata.NewCachingFetcher(alpaca, pstore, calendar, cfg.Monitor.RetryAttempts, time.Second)

	sched, err := monitor.NewScheduler(monitor.SchedulerOptions{
		Registry:   strategy.NewRegistry(cfg.Monitor.StrategiesDir),
		Fetcher:    fetcher,
		Artifacts:  artifacts,
		History:    history,
		StartDate:  startDate,
		Interval:   cfg.RefreshInterval(),
		MaxWorkers: cfg.Monitor.MaxWorkers,
	})
	if err != nil {
		log.Fatalf("building scheduler: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := sched.RunOnce(ctx)
	if err != nil {
		log.Fatalf("refresh cycle failed: %v", err)
	}
	printReport(report)

	if report.State == domain.CyclePartialFailed {
		os.Exit(1)
	}
}

func printReport(report *domain.CycleReport) {
	ok, failed := report.Counts()
	fmt.Printf("cycle %s: %d ok, %d failed in %s\n",
		report.State, ok, failed, report.End.Sub(report.Start).Round(time.Millisecond))

	symbols := make([]string, 0, len(report.Outcomes))
	for sym := range report.Outcomes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		o := report.Outcomes[sym]
		if o.Kind == domain.OutcomeFailed {
			fmt.Printf("  %-8s %-10s %s\n", sym, o.Kind, o.Err)
		} else {
			fmt.Printf("  %-8s %s\n", sym, o.Kind)
		}
	}
}
