package engine

import (
	"context"

	"go.uber.org/zap"

	"SendWave/internal/models"
)

// ProgressStore is the slice of the job store the tracker writes through.
type ProgressStore interface {
	FlushProgress(ctx context.Context, jobID int64, sentDelta, failedDelta, current int, outcomes []models.DeliveryResult) error
	AppendDelayMetrics(ctx context.Context, jobID int64, ms []models.DelayMetric) error
}

// Tracker buffers per-recipient outcomes and flushes them in batches, so
// progress writes are amortized over several recipients instead of one
// write per message. After any flush the persisted cursor points at the
// first unprocessed recipient, which is what makes interrupted jobs
// resumable.
type Tracker struct {
	store ProgressStore
	jobID int64
	every int
	log   *zap.Logger

	pending []models.DeliveryResult
	delays  []models.DelayMetric
	sent    int
	failed  int
	cursor  int
}

func NewTracker(store ProgressStore, jobID int64, flushEvery int, logger *zap.Logger) *Tracker {
	if flushEvery < 1 {
		flushEvery = 1
	}
	return &Tracker{
		store: store,
		jobID: jobID,
		every: flushEvery,
		log:   logger,
	}
}

// Record buffers one outcome and advances the cursor to nextIndex, the
// first index not yet processed. Flushes once the batch is full.
func (t *Tracker) Record(ctx context.Context, res models.DeliveryResult, nextIndex int) error {
	t.pending = append(t.pending, res)
	if res.Success {
		t.sent++
	} else {
		t.failed++
	}
	t.cursor = nextIndex

	if len(t.pending) >= t.every {
		return t.Flush(ctx)
	}
	return nil
}

// RecordDelay buffers one pacing telemetry point.
func (t *Tracker) RecordDelay(m models.DelayMetric) {
	t.delays = append(t.delays, m)
}

// Flush writes all buffered outcomes in one atomic update, then ships
// pacing telemetry. Telemetry failures are logged, not fatal; a progress
// write failure is, since losing it breaks the resumability contract.
func (t *Tracker) Flush(ctx context.Context) error {
	if len(t.pending) > 0 {
		if err := t.store.FlushProgress(ctx, t.jobID, t.sent, t.failed, t.cursor, t.pending); err != nil {
			return err
		}
		t.pending = t.pending[:0]
		t.sent = 0
		t.failed = 0
	}

	if len(t.delays) > 0 {
		if err := t.store.AppendDelayMetrics(ctx, t.jobID, t.delays); err != nil {
			t.log.Warn("delay telemetry write failed",
				zap.Int64("job_id", t.jobID),
				zap.Error(err),
			)
		}
		t.delays = t.delays[:0]
	}
	return nil
}
