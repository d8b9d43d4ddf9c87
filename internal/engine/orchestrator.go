// Package engine drives a claimed job through its recipient list: the
// orchestrator is the state machine pending/scheduled -> processing ->
// {completed, failed}, with lock-reclaim as the exceptional path back to
// pending. Recipient-level errors are absorbed into counters and results;
// only configuration and infrastructure errors abort a run.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"SendWave/internal/delay"
	"SendWave/internal/metrics"
	"SendWave/internal/models"
)

// JobStore is everything the orchestrator needs from persistence.
type JobStore interface {
	ProgressStore
	Release(ctx context.Context, jobID int64) error
	MarkProcessing(ctx context.Context, jobID int64) error
	MarkPending(ctx context.Context, jobID int64) error
	MarkCompleted(ctx context.Context, jobID int64, stats models.DeliveryStats) error
	MarkFailed(ctx context.Context, jobID int64, reason string) error
	JobStatus(ctx context.Context, jobID int64) (models.JobStatus, error)
}

// RecipientSender dispatches one message to one recipient and always
// returns a structured outcome.
type RecipientSender interface {
	Send(ctx context.Context, job *models.Job, rcpt models.Recipient) models.DeliveryResult
}

// Reconciler settles billing points against delivery outcomes.
type Reconciler interface {
	Reconcile(ctx context.Context, job *models.Job, failureCount int) (int64, error)
	ReconcileFull(ctx context.Context, job *models.Job) (int64, error)
}

type Orchestrator struct {
	store      JobStore
	sender     RecipientSender
	reconciler Reconciler
	log        *zap.Logger
	flushEvery int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(store JobStore, sender RecipientSender, rec Reconciler, logger *zap.Logger, flushEvery int) *Orchestrator {
	return &Orchestrator{
		store:      store,
		sender:     sender,
		reconciler: rec,
		log:        logger,
		flushEvery: flushEvery,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// sleepContext is a cancellation-aware pause: a pending pacing delay must
// not hold up process shutdown.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes one freshly claimed job to a terminal state. The caller
// must hold the job's processing lock; Run guarantees the lock is not
// held once the job reaches completed, failed or canceled.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) {
	log := o.log.With(zap.Int64("job_id", job.ID), zap.Int64("owner_id", job.OwnerID))

	// Scheduled-but-not-due must not flip to processing: release the
	// lock and leave the record untouched for a later scan.
	if !job.Due(o.now()) {
		if err := o.store.Release(ctx, job.ID); err != nil {
			log.Error("failed to release not-due job", zap.Error(err))
		}
		return
	}

	if err := o.store.MarkProcessing(ctx, job.ID); err != nil {
		log.Error("failed to mark job processing", zap.Error(err))
		if rerr := o.store.Release(ctx, job.ID); rerr != nil {
			log.Error("failed to release job after mark error", zap.Error(rerr))
		}
		return
	}
	job.Status = models.StatusProcessing

	// Configuration errors abort before any send, with a full refund.
	if err := job.ValidateConfig(); err != nil {
		log.Warn("job configuration invalid", zap.Error(err))
		o.fail(ctx, job, nil, "configuration error: "+err.Error(), log)
		return
	}

	log.Info("job started",
		zap.Int("recipients", len(job.Recipients)),
		zap.Int("resume_from", job.Current),
		zap.String("message_type", string(job.MessageType)),
	)

	start := o.now()
	tracker := NewTracker(o.store, job.ID, o.flushEvery, log)

	var (
		sentRun, failedRun     int
		responseMs, responses  int64
		delayMs, delaysCounted int64
	)

	i := job.Current
	for ; i < len(job.Recipients); i++ {
		// Cooperative cancellation check at the top of every iteration.
		status, err := o.store.JobStatus(ctx, job.ID)
		if err != nil {
			o.fail(ctx, job, tracker, "status check failed: "+err.Error(), log)
			return
		}
		if status == models.StatusCanceled {
			o.cancel(ctx, job, tracker, i, failedRun, log)
			return
		}
		if ctx.Err() != nil {
			o.suspend(ctx, job, tracker, log)
			return
		}

		rcpt := job.Recipients[i]
		var res models.DeliveryResult
		if err := rcpt.Validate(); err != nil {
			// Malformed entries are counted failed and skipped without a
			// dispatch attempt.
			res = models.DeliveryResult{
				RecipientID: rcpt.ID,
				Error:       err.Error(),
				ErrorCode:   "invalid_recipient",
				SentAt:      o.now(),
			}
		} else {
			res = o.sender.Send(ctx, job, rcpt)
		}

		if res.Success {
			sentRun++
			responseMs += res.ResponseTimeMs
			responses++
			metrics.MessagesSent.Inc()
		} else {
			failedRun++
			metrics.MessageFailures.Inc()
			log.Debug("recipient delivery failed",
				zap.String("recipient", rcpt.ID),
				zap.String("error_code", res.ErrorCode),
				zap.Int("retries", res.Retries),
			)
		}

		if err := tracker.Record(ctx, res, i+1); err != nil {
			o.fail(ctx, job, tracker, "progress flush failed: "+err.Error(), log)
			return
		}

		// Pacing pause after a successful send, skipped after the final
		// recipient.
		if res.Success && job.Delay.Enabled && i < len(job.Recipients)-1 {
			target := delay.Compute(job.Delay, i, job.HasMedia())
			if target > 0 {
				before := o.now()
				if err := o.sleep(ctx, target); err != nil {
					o.suspend(ctx, job, tracker, log)
					return
				}
				actual := o.now().Sub(before)
				tracker.RecordDelay(models.DelayMetric{
					MessageIndex: i,
					RecipientID:  rcpt.ID,
					TargetMs:     target.Milliseconds(),
					ActualMs:     actual.Milliseconds(),
					Mode:         job.Delay.Mode,
					Timestamp:    o.now(),
				})
				delayMs += actual.Milliseconds()
				delaysCounted++
			}
		}
	}

	// All recipients iterated: finalize.
	totalFailed := job.Failed + failedRun
	totalSent := job.Sent + sentRun

	if totalFailed > 0 {
		if _, err := o.reconciler.Reconcile(ctx, job, totalFailed); err != nil {
			log.Error("billing reconciliation failed", zap.Error(err))
		}
	}

	if err := tracker.Flush(ctx); err != nil {
		o.fail(ctx, job, nil, "final flush failed: "+err.Error(), log)
		return
	}

	stats := models.DeliveryStats{
		AvgResponseTimeMs: avg(responseMs, responses),
		AvgDelayMs:        avg(delayMs, delaysCounted),
		SuccessRate:       rate(totalSent, totalSent+totalFailed),
		DurationMs:        o.now().Sub(start).Milliseconds(),
	}
	if err := o.store.MarkCompleted(ctx, job.ID, stats); err != nil {
		log.Error("failed to mark job completed", zap.Error(err))
		return
	}

	metrics.JobsCompleted.Inc()
	log.Info("job completed",
		zap.Int("sent", totalSent),
		zap.Int("failed", totalFailed),
		zap.Int64("duration_ms", stats.DurationMs),
		zap.Float64("success_rate", stats.SuccessRate),
	)
}

// cancel honors a user-initiated cancellation observed mid-loop: the rest
// of the list is not dispatched and unprocessed recipients are reconciled
// as failures.
func (o *Orchestrator) cancel(ctx context.Context, job *models.Job, tracker *Tracker, nextIndex, failedRun int, log *zap.Logger) {
	if err := tracker.Flush(ctx); err != nil {
		log.Error("flush on cancel failed", zap.Error(err))
	}

	unprocessed := len(job.Recipients) - nextIndex
	if _, err := o.reconciler.Reconcile(ctx, job, job.Failed+failedRun+unprocessed); err != nil {
		log.Error("reconciliation on cancel failed", zap.Error(err))
	}

	if err := o.store.Release(ctx, job.ID); err != nil {
		log.Error("failed to release canceled job", zap.Error(err))
	}
	log.Info("job canceled by user", zap.Int("unprocessed", unprocessed))
}

// suspend parks a job mid-run on process shutdown: progress is flushed
// and the job goes back to pending with its cursor intact, so another
// worker (or this one after restart) resumes exactly where it stopped.
func (o *Orchestrator) suspend(ctx context.Context, job *models.Job, tracker *Tracker, log *zap.Logger) {
	// The root context is already canceled; give the final writes their
	// own short deadline.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Error("flush on shutdown failed, lock reclaim will recover the job", zap.Error(err))
	}
	if err := o.store.MarkPending(flushCtx, job.ID); err != nil {
		log.Error("failed to requeue job on shutdown", zap.Error(err))
		return
	}
	log.Info("job suspended for shutdown")
}

// fail is the terminal path for configuration and infrastructure errors:
// the job is flagged failed and its remaining balance refunded in full,
// best effort.
func (o *Orchestrator) fail(ctx context.Context, job *models.Job, tracker *Tracker, reason string, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	if tracker != nil {
		if err := tracker.Flush(ctx); err != nil {
			log.Error("flush on failure path failed", zap.Error(err))
		}
	}
	if err := o.store.MarkFailed(ctx, job.ID, reason); err != nil {
		log.Error("failed to mark job failed", zap.Error(err))
	}
	if _, err := o.reconciler.ReconcileFull(ctx, job); err != nil {
		log.Error("full reconciliation failed", zap.Error(err))
	}

	metrics.JobsFailed.Inc()
	log.Error("job failed", zap.String("reason", reason))
}

func avg(total, n int64) int64 {
	if n == 0 {
		return 0
	}
	return total / n
}

func rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
