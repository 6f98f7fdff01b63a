package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
	"github.com/Media-refocus/trading-saas-sub000/internal/engine"
	"github.com/Media-refocus/trading-saas-sub000/internal/signal"
	"github.com/Media-refocus/trading-saas-sub000/internal/ticks"
)

// ErrJobNotFound is returned when a job ID is unknown to the scheduler.
var ErrJobNotFound = errors.New("jobs: job not found")

// completedRetention is how long a completed job stays listable before the
// periodic sweep removes it.
const completedRetention = time.Hour

// sweepInterval is how often Start's background loop prunes old completed
// jobs.
const sweepInterval = 10 * time.Minute

// SignalLoader resolves a signal source identifier (a feed file path) into
// parsed, ordered trading signals.
type SignalLoader func(source string) (*signal.ParseResult, error)

// job wraps the externally visible record with the scheduler's control
// state. The record is mutated only under the scheduler's lock; the
// cancellation flag is read lock-free inside the replay loop.
type job struct {
	record    domain.BacktestJob
	cancelled atomic.Bool
}

// Scheduler runs backtest jobs with a fixed concurrency ceiling. Queued
// jobs are ordered by descending priority, FIFO within a priority. All
// queue and active-set transitions happen under one mutex, so completion of
// one job atomically admits the next.
type Scheduler struct {
	mu        sync.Mutex
	queue     []*job          // pending, priority-ordered
	active    map[string]*job // running
	completed []*job          // terminal, oldest first, capped
	jobs      map[string]*job // every known job by ID

	maxConcurrent int
	maxCompleted  int

	loader      *ticks.Loader
	results     *ResultCache
	loadSignals SignalLoader
	logger      *slog.Logger

	// wg tracks running job goroutines so tests can wait for drain.
	wg sync.WaitGroup
}

// NewScheduler creates a Scheduler that loads ticks through loader,
// memoizes results in results, and resolves signal sources with
// loadSignals (signal.LoadFile when nil).
func NewScheduler(loader *ticks.Loader, results *ResultCache, loadSignals SignalLoader, maxConcurrent, maxCompleted int, logger *slog.Logger) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxCompleted < 1 {
		maxCompleted = 1
	}
	if loadSignals == nil {
		loadSignals = signal.LoadFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		active:        make(map[string]*job),
		jobs:          make(map[string]*job),
		maxConcurrent: maxConcurrent,
		maxCompleted:  maxCompleted,
		loader:        loader,
		results:       results,
		loadSignals:   loadSignals,
		logger:        logger,
	}
}

// Submit enqueues a backtest for the given config and signal source. limit
// caps how many signals run (0 = all); higher priority jobs are admitted
// first. The job starts immediately when a concurrency slot is free.
func (s *Scheduler) Submit(cfg domain.GridConfig, source string, limit, priority int) domain.BacktestJob {
	j := &job{
		record: domain.BacktestJob{
			ID:            uuid.NewString(),
			Status:        domain.JobPending,
			Config:        cfg.Normalized(),
			SignalsSource: source,
			SignalLimit:   limit,
			Priority:      priority,
			CreatedAt:     time.Now().UTC(),
		},
	}

	s.mu.Lock()
	s.jobs[j.record.ID] = j
	s.queue = append(s.queue, j)
	// Stable sort keeps FIFO order within one priority.
	sort.SliceStable(s.queue, func(a, b int) bool {
		return s.queue[a].record.Priority > s.queue[b].record.Priority
	})
	s.admitLocked()
	rec := j.record
	s.mu.Unlock()

	s.logger.Info("job submitted",
		"job", rec.ID, "source", source, "priority", priority)
	return rec
}

// Get returns a snapshot of the job with the given ID.
func (s *Scheduler) Get(id string) (domain.BacktestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return domain.BacktestJob{}, ErrJobNotFound
	}
	return j.record, nil
}

// Cancel stops a job. A pending job is removed from the queue immediately;
// a running job is flagged and stops at its next between-signal checkpoint,
// discarding partial results. Returns false for unknown or already terminal
// jobs.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.record.Status.Terminal() {
		return false
	}

	switch j.record.Status {
	case domain.JobPending:
		for i, queued := range s.queue {
			if queued == j {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
		s.finishLocked(j, domain.JobCancelled, nil, "")
		return true
	case domain.JobRunning:
		j.cancelled.Store(true)
		return true
	}
	return false
}

// Active returns snapshots of running jobs.
func (s *Scheduler) Active() []domain.BacktestJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.BacktestJob, 0, len(s.active))
	for _, j := range s.active {
		out = append(out, j.record)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Queued returns snapshots of pending jobs in admission order.
func (s *Scheduler) Queued() []domain.BacktestJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.BacktestJob, 0, len(s.queue))
	for _, j := range s.queue {
		out = append(out, j.record)
	}
	return out
}

// Completed returns snapshots of terminal jobs, oldest first.
func (s *Scheduler) Completed() []domain.BacktestJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.BacktestJob, 0, len(s.completed))
	for _, j := range s.completed {
		out = append(out, j.record)
	}
	return out
}

// PruneCompleted removes terminal jobs that finished more than retention
// ago and returns how many were dropped.
func (s *Scheduler) PruneCompleted(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.completed[:0]
	pruned := 0
	for _, j := range s.completed {
		if j.record.CompletedAt != nil && j.record.CompletedAt.Before(cutoff) {
			delete(s.jobs, j.record.ID)
			pruned++
			continue
		}
		kept = append(kept, j)
	}
	s.completed = kept
	return pruned
}

// Start runs the periodic completed-job sweep until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PruneCompleted(completedRetention); n > 0 {
				s.logger.Debug("pruned completed jobs", "count", n)
			}
		}
	}
}

// Wait blocks until every running job goroutine has exited. Test helper.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// ---------------------------------------------------------------------------
// Admission and completion (caller holds the lock)
// ---------------------------------------------------------------------------

// admitLocked starts queued jobs until the concurrency ceiling is reached.
func (s *Scheduler) admitLocked() {
	for len(s.active) < s.maxConcurrent && len(s.queue) > 0 {
		j := s.queue[0]
		s.queue = s.queue[1:]

		now := time.Now().UTC()
		j.record.Status = domain.JobRunning
		j.record.StartedAt = &now
		s.active[j.record.ID] = j

		s.wg.Add(1)
		go s.run(j)
	}
}

// finishLocked moves a job to a terminal state and the completed ring.
func (s *Scheduler) finishLocked(j *job, status domain.JobStatus, results *domain.BacktestResult, errMsg string) {
	if j.record.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.record.Status = status
	j.record.Results = results
	j.record.Error = errMsg
	j.record.CompletedAt = &now
	if status == domain.JobCompleted {
		j.record.Progress = 100
	}

	delete(s.active, j.record.ID)
	s.completed = append(s.completed, j)
	for len(s.completed) > s.maxCompleted {
		evicted := s.completed[0]
		s.completed = s.completed[1:]
		delete(s.jobs, evicted.record.ID)
	}
}

// complete finishes a running job and admits the next queued one in the
// same critical section, so the ceiling is never overshot or left idle.
func (s *Scheduler) complete(j *job, status domain.JobStatus, results *domain.BacktestResult, errMsg string) {
	s.mu.Lock()
	s.finishLocked(j, status, results, errMsg)
	s.admitLocked()
	s.mu.Unlock()

	s.logger.Info("job finished",
		"job", j.record.ID, "status", string(status), "error", errMsg)
}

// ---------------------------------------------------------------------------
// Job execution
// ---------------------------------------------------------------------------

// run executes one job to a terminal state. A panic anywhere in the replay
// is captured as a job error so one misbehaving simulation cannot take down
// the scheduler or its sibling jobs.
func (s *Scheduler) run(j *job) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", j.record.ID, "panic", r)
			s.complete(j, domain.JobError, nil, fmt.Sprintf("panic: %v", r))
		}
	}()

	cfg := j.record.Config
	key := ResultKey(cfg, j.record.SignalsSource, j.record.SignalLimit)

	if cached, ok := s.results.Get(key); ok {
		s.logger.Info("serving cached result", "job", j.record.ID)
		s.complete(j, domain.JobCompleted, cached, "")
		return
	}

	res, err := s.execute(j, cfg)
	switch {
	case err == nil && j.cancelled.Load():
		s.complete(j, domain.JobCancelled, nil, "")
	case err != nil:
		s.complete(j, domain.JobError, nil, err.Error())
	default:
		s.results.Put(key, res)
		s.complete(j, domain.JobCompleted, res, "")
	}
}

// execute runs the full pipeline: load signals, batch-load tick days,
// replay each signal through a fresh engine. Returns (nil, nil) when the
// job was cancelled mid-run; partial results are discarded.
func (s *Scheduler) execute(j *job, cfg domain.GridConfig) (*domain.BacktestResult, error) {
	parsed, err := s.loadSignals(j.record.SignalsSource)
	if err != nil {
		return nil, fmt.Errorf("loading signals from %s: %w", j.record.SignalsSource, err)
	}

	signals := parsed.Signals
	if j.record.SignalLimit > 0 && len(signals) > j.record.SignalLimit {
		signals = signals[:j.record.SignalLimit]
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("signal source %s contains no usable signals", j.record.SignalsSource)
	}

	s.setTotal(j, len(signals))

	ctx := context.Background()
	ticksByDay, err := s.loader.Preload(ctx, signals)
	if err != nil {
		return nil, fmt.Errorf("preloading ticks: %w", err)
	}

	eng := engine.New(cfg)
	for i := range signals {
		if j.cancelled.Load() {
			s.logger.Info("job cancelled", "job", j.record.ID, "signal", i)
			return nil, nil
		}

		if err := s.replaySignal(eng, ticksByDay, &signals[i]); err != nil {
			return nil, fmt.Errorf("replaying signal %s: %w", signals[i].ID, err)
		}
		s.setProgress(j, i+1, len(signals))
	}

	return eng.Results(), nil
}

// replaySignal runs one signal's tick window through the engine. A missing
// entry price is enriched from the loaded tick buckets; a signal with no
// ticks at all is still closed (at its reference price) so partial data
// does not shrink the trade count.
func (s *Scheduler) replaySignal(eng *engine.Engine, ticksByDay map[string][]domain.Tick, sig *domain.TradingSignal) error {
	entryPrice := sig.EntryPrice
	if q, ok := ticks.MarketPriceNear(ticksByDay, sig.Timestamp, ticks.DefaultTolerance); ok {
		if sig.Side == domain.SideBuy {
			entryPrice = q.Ask
		} else {
			entryPrice = q.Bid
		}
	}
	if entryPrice <= 0 {
		// No market price and no hint: nothing to simulate against.
		eng.MarkSkipped()
		return nil
	}

	if err := eng.StartSignal(sig.ID, sig.Side, entryPrice, sig.Timestamp); err != nil {
		return err
	}
	eng.OpenInitialOrders(entryPrice, sig.Timestamp)

	window := ticks.TicksForSignal(ticksByDay, sig)
	if len(window) == 0 {
		eng.MarkSkipped()
		_, end := ticks.SignalWindow(sig)
		eng.CloseRemaining(entryPrice, end)
		return nil
	}

	closed := false
	for i := range window {
		if eng.ProcessTick(&window[i]) != nil {
			closed = true
			break
		}
	}

	if !closed {
		last := &window[len(window)-1]
		lastPrice := last.Bid
		if sig.Side == domain.SideSell {
			lastPrice = last.Ask
		}
		eng.CloseRemaining(lastPrice, last.Timestamp)
	}
	return nil
}

func (s *Scheduler) setTotal(j *job, total int) {
	s.mu.Lock()
	j.record.TotalSignals = total
	s.mu.Unlock()
}

func (s *Scheduler) setProgress(j *job, current, total int) {
	s.mu.Lock()
	j.record.CurrentSignal = current
	j.record.Progress = current * 100 / total
	s.mu.Unlock()
}
