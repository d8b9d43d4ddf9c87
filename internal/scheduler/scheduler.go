// Package scheduler is the periodic trigger of the delivery engine: one
// tick scans for due jobs and hands claims to the orchestrator, a slower
// tick reclaims locks abandoned by crashed workers. Multiple instances
// may run this loop against the same store; the conditional update
// behind TryAcquire is the only coordination between them.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"SendWave/internal/metrics"
	"SendWave/internal/models"
)

// Store is the slice of the job store the scheduler needs.
type Store interface {
	ListDue(ctx context.Context, window time.Duration, limit int) ([]int64, error)
	TryAcquire(ctx context.Context, jobID int64, window time.Duration, workerID string) (*models.Job, error)
	ReclaimStuck(ctx context.Context, window time.Duration, reason string) (int64, error)
}

// Runner processes one claimed job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job *models.Job)
}

type Scheduler struct {
	store    Store
	runner   Runner
	active   *ActiveJobs
	log      *zap.Logger
	workerID string

	scanInterval    time.Duration
	reclaimInterval time.Duration
	lockWindow      time.Duration
	scanBatch       int

	sem chan struct{}
	wg  sync.WaitGroup
}

type Options struct {
	ScanInterval    time.Duration
	ReclaimInterval time.Duration
	LockWindow      time.Duration
	ScanBatch       int
	MaxActive       int
}

func New(store Store, runner Runner, active *ActiveJobs, logger *zap.Logger, opts Options) *Scheduler {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = time.Minute
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = 10 * time.Minute
	}
	if opts.LockWindow <= 0 {
		opts.LockWindow = 30 * time.Minute
	}
	if opts.ScanBatch <= 0 {
		opts.ScanBatch = 20
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = 8
	}

	return &Scheduler{
		store:           store,
		runner:          runner,
		active:          active,
		log:             logger,
		workerID:        "worker-" + uuid.NewString()[:8],
		scanInterval:    opts.ScanInterval,
		reclaimInterval: opts.ReclaimInterval,
		lockWindow:      opts.LockWindow,
		scanBatch:       opts.ScanBatch,
		sem:             make(chan struct{}, opts.MaxActive),
	}
}

// Run drives both tickers until the context is canceled, then waits for
// in-flight jobs to suspend or finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started",
		zap.String("worker_id", s.workerID),
		zap.Duration("scan_interval", s.scanInterval),
		zap.Duration("reclaim_interval", s.reclaimInterval),
		zap.Duration("lock_window", s.lockWindow),
	)

	scanTicker := time.NewTicker(s.scanInterval)
	defer scanTicker.Stop()
	reclaimTicker := time.NewTicker(s.reclaimInterval)
	defer reclaimTicker.Stop()

	s.reclaimOnce(ctx)
	s.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping, waiting for in-flight jobs")
			s.wg.Wait()
			return
		case <-scanTicker.C:
			s.scanOnce(ctx)
		case <-reclaimTicker.C:
			s.reclaimOnce(ctx)
		}
	}
}

// scanOnce claims due jobs up to the concurrency cap and dispatches each
// to the orchestrator in its own goroutine.
func (s *Scheduler) scanOnce(ctx context.Context) {
	ids, err := s.store.ListDue(ctx, s.lockWindow, s.scanBatch)
	if err != nil {
		s.log.Error("due-job scan failed", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	s.log.Debug("due jobs found", zap.Int("count", len(ids)))

	for _, id := range ids {
		if s.active.Contains(id) {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			// At capacity; the rest waits for the next tick.
			return
		}

		s.wg.Add(1)
		go s.claimAndRun(ctx, id)
	}
}

func (s *Scheduler) claimAndRun(ctx context.Context, jobID int64) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	job, err := s.store.TryAcquire(ctx, jobID, s.lockWindow, s.workerID)
	if err != nil {
		s.log.Error("job claim failed", zap.Int64("job_id", jobID), zap.Error(err))
		return
	}
	if job == nil {
		// Another worker won the race; expected and silent.
		return
	}

	s.active.Add(job)
	defer s.active.Remove(job.ID)

	s.runner.Run(ctx, job)
}

// reclaimOnce breaks locks held past the timeout window, returning the
// presumed-crashed jobs to the claimable pool with cursors intact.
func (s *Scheduler) reclaimOnce(ctx context.Context) {
	reason := "lock timeout exceeded, reclaimed by " + s.workerID
	n, err := s.store.ReclaimStuck(ctx, s.lockWindow, reason)
	if err != nil {
		s.log.Error("stuck-job reclaim failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.StuckJobsReclaimed.Add(float64(n))
		s.log.Warn("reclaimed stuck jobs", zap.Int64("count", n))
	}
}
