package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stratmon/internal/monitor"
	"stratmon/internal/store"
)

const defaultCycleLimit = 20

// MonitorServer serves the published monitoring results.
type MonitorServer struct {
	artifacts  *monitor.ArtifactStore
	poller     *monitor.FreshnessPoller
	supervisor *monitor.Supervisor
	history    store.HistoryStore // nil when history is not configured
	log        *slog.Logger
}

// NewMonitorServer creates the HTTP server over the artifact store, poller,
// and supervisor. history may be nil.
func NewMonitorServer(
	artifacts *monitor.ArtifactStore,
	poller *monitor.FreshnessPoller,
	supervisor *monitor.Supervisor,
	history store.HistoryStore,
	log *slog.Logger,
) *MonitorServer {
	return &MonitorServer{
		artifacts:  artifacts,
		poller:     poller,
		supervisor: supervisor,
		history:    history,
		log:        log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *MonitorServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/monitor", s.handleMonitor)
	mux.HandleFunc("GET /api/monitor/{symbol}", s.handleSymbol)
	mux.HandleFunc("GET /api/freshness", s.handleFreshness)
	mux.HandleFunc("GET /api/cycles", s.handleCycles)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

// Handler returns an http.Handler with CORS middleware.
func (s *MonitorServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *MonitorServer) handleMonitor(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.artifacts.Load()
	if err != nil {
		if errors.Is(err, monitor.ErrNoArtifact) {
			writeError(w, http.StatusNotFound, "no monitoring results published yet")
			return
		}
		s.log.Error("loading artifact", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load monitoring results")
		return
	}

	writeJSON(w, MonitorResponse{
		GeneratedAt:    artifact.GeneratedAt,
		StartDate:      artifact.StartDate,
		Results:        artifact.Results,
		PricingSources: artifact.PricingSources,
	})
}

func (s *MonitorServer) handleSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))

	artifact, err := s.artifacts.Load()
	if err != nil {
		if errors.Is(err, monitor.ErrNoArtifact) {
			writeError(w, http.StatusNotFound, "no monitoring results published yet")
			return
		}
		s.log.Error("loading artifact", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load monitoring results")
		return
	}

	result, ok := artifact.Results[symbol]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no results for %s", symbol))
		return
	}

	writeJSON(w, SymbolResponse{GeneratedAt: artifact.GeneratedAt, Result: result})
}

func (s *MonitorServer) handleFreshness(w http.ResponseWriter, r *http.Request) {
	status, gen := s.poller.Status()

	resp := FreshnessResponse{
		Status:         status,
		ChangedSymbols: s.poller.LastChanged(),
	}
	if !gen.IsZero() {
		age := time.Since(gen).Seconds()
		resp.GeneratedAt = &gen
		resp.AgeSeconds = &age
	}
	writeJSON(w, resp)
}

func (s *MonitorServer) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, CyclesResponse{Cycles: []store.CycleRecord{}})
		return
	}

	limit := defaultCycleLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	cycles, err := s.history.RecentCycles(r.Context(), limit)
	if err != nil {
		s.log.Error("listing cycles", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	if cycles == nil {
		cycles = []store.CycleRecord{}
	}
	writeJSON(w, CyclesResponse{Cycles: cycles})
}

func (s *MonitorServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sched := s.supervisor.Scheduler()
	if sched == nil {
		writeError(w, http.StatusConflict, "refresh scheduler is disabled on this replica")
		return
	}

	report, err := sched.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, monitor.ErrCycleRunning) {
			writeError(w, http.StatusConflict, "a refresh cycle is already running")
			return
		}
		s.log.Error("manual refresh failed", "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("refresh failed: %v", err))
		return
	}

	ok, failed := report.Counts()
	writeJSON(w, RefreshResponse{
		State:       report.State,
		OKCount:     ok,
		FailedCount: failed,
		ElapsedMS:   report.End.Sub(report.Start).Milliseconds(),
	})
}
