// Package httpapi exposes the backtest platform over a JSON REST API:
// job submission and polling, cache statistics, and tick coverage.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
	"github.com/Media-refocus/trading-saas-sub000/internal/jobs"
	"github.com/Media-refocus/trading-saas-sub000/internal/store"
	"github.com/Media-refocus/trading-saas-sub000/internal/ticks"
)

// Server serves the backtest HTTP API.
type Server struct {
	scheduler *jobs.Scheduler
	cache     *ticks.Cache
	results   *jobs.ResultCache
	tickStore store.TickStore
	symbol    string
	log       *slog.Logger
}

// NewServer creates the API server over the given scheduler and stores.
func NewServer(scheduler *jobs.Scheduler, cache *ticks.Cache, results *jobs.ResultCache, tickStore store.TickStore, symbol string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		scheduler: scheduler,
		cache:     cache,
		results:   results,
		tickStore: tickStore,
		symbol:    symbol,
		log:       log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtests", s.handleSubmit)
	mux.HandleFunc("GET /api/backtests", s.handleList)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/backtests/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	mux.HandleFunc("GET /api/ticks/stats", s.handleTickStats)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// SubmitRequest is the body of POST /api/backtests.
type SubmitRequest struct {
	Config        domain.GridConfig `json:"config"`
	SignalsSource string            `json:"signalsSource"`
	Limit         int               `json:"limit,omitempty"`
	Priority      int               `json:"priority,omitempty"`
}

// JobListResponse groups jobs by lifecycle for GET /api/backtests.
type JobListResponse struct {
	Active    []domain.BacktestJob `json:"active"`
	Queued    []domain.BacktestJob `json:"queued"`
	Completed []domain.BacktestJob `json:"completed"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SignalsSource == "" {
		writeError(w, http.StatusBadRequest, "signalsSource is required")
		return
	}
	if req.Config.LotSize <= 0 {
		writeError(w, http.StatusBadRequest, "config.lotSize must be positive")
		return
	}

	job := s.scheduler.Submit(req.Config, req.SignalsSource, req.Limit, req.Priority)
	s.log.Info("backtest submitted", "job", job.ID, "source", req.SignalsSource)

	writeJSONStatus(w, http.StatusAccepted, job)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, JobListResponse{
		Active:    s.scheduler.Active(),
		Queued:    s.scheduler.Queued(),
		Completed: s.scheduler.Completed(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.scheduler.Cancel(id) {
		writeError(w, http.StatusConflict, "job not cancellable")
		return
	}
	writeJSON(w, map[string]string{"id": id, "status": "cancelling"})
}

// CacheStatsResponse is the body of GET /api/cache/stats: the tick cache,
// the result cache fill, and the scheduler's job counts in one view.
type CacheStatsResponse struct {
	Ticks   ticks.CacheStats `json:"ticks"`
	Results ResultCacheStats `json:"results"`
	Jobs    JobCounts        `json:"jobs"`
}

type ResultCacheStats struct {
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
}

type JobCounts struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, CacheStatsResponse{
		Ticks: s.cache.Stats(),
		Results: ResultCacheStats{
			Entries:  s.results.Len(),
			Capacity: s.results.Cap(),
		},
		Jobs: JobCounts{
			Active:    len(s.scheduler.Active()),
			Queued:    len(s.scheduler.Queued()),
			Completed: len(s.scheduler.Completed()),
		},
	})
}

func (s *Server) handleTickStats(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = s.symbol
	}

	stats, err := s.tickStore.Stats(r.Context(), symbol)
	if err != nil {
		s.log.Error("querying tick stats", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stats)
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// writeJSONStatus sets the Content-Type before the status line; headers set
// after WriteHeader are dropped.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
