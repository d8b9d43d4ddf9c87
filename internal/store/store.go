// Package store persists jobs in Postgres. The engine relies on exactly
// two primitives: a conditional UPDATE (the cross-process mutual-exclusion
// mechanism behind the job lock) and atomic increments/bounded appends
// (progress counters, the results window, refund accounting). No job
// run-state is ever written by read-modify-write on an in-memory copy.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"SendWave/internal/models"
)

// resultsCap bounds the per-job window of recent delivery outcomes.
const resultsCap = 50

type Store struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// Connect opens the pool and waits for the database to become reachable,
// retrying with exponential backoff.
func Connect(ctx context.Context, conn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	ping := func() error {
		return pool.Ping(ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	return &Store{Pool: pool, log: logger}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

const jobColumns = `
	id, owner_id, recipients, message_type, message,
	COALESCE(media_url,''), COALESCE(caption,''), buttons, personalize, delay,
	scheduled, scheduled_time, status, current_index, sent, failed, results,
	processing_lock, processing_lock_acquired_at, processing_started_at,
	processing_completed_at, points_per_message, deducted_points,
	points_refunded, COALESCE(last_error,''), created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j          models.Job
		recipients []byte
		buttons    []byte
		delayCfg   []byte
		results    []byte
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &recipients, &j.MessageType, &j.Message,
		&j.MediaURL, &j.Caption, &buttons, &j.Personalize, &delayCfg,
		&j.Scheduled, &j.ScheduledTime, &j.Status, &j.Current, &j.Sent,
		&j.Failed, &results,
		&j.ProcessingLock, &j.ProcessingLockAcquiredAt, &j.ProcessingStartedAt,
		&j.ProcessingCompletedAt, &j.PointsPerMessage, &j.DeductedPoints,
		&j.PointsRefunded, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &j.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients: %w", err)
		}
	}
	if len(buttons) > 0 {
		if err := json.Unmarshal(buttons, &j.Buttons); err != nil {
			return nil, fmt.Errorf("decode buttons: %w", err)
		}
	}
	if len(delayCfg) > 0 {
		if err := json.Unmarshal(delayCfg, &j.Delay); err != nil {
			return nil, fmt.Errorf("decode delay config: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &j.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &j, nil
}

// TryAcquire performs the single conditional update that grants exclusive
// ownership of a job: it succeeds only when the lock is free or has been
// held past the timeout window, and the job is in a claimable status.
// Losing the race is not an error; the caller gets (nil, nil) and simply
// skips the job this cycle.
func (s *Store) TryAcquire(ctx context.Context, jobID int64, window time.Duration, workerID string) (*models.Job, error) {
	row := s.Pool.QueryRow(ctx,
		`UPDATE jobs SET
			processing_lock = TRUE,
			processing_lock_acquired_at = NOW(),
			locked_by = $3,
			updated_at = NOW()
		 WHERE id = $1
		   AND status IN ('pending','scheduled')
		   AND (processing_lock = FALSE
		        OR processing_lock_acquired_at < NOW() - make_interval(secs => $2))
		 RETURNING`+jobColumns,
		jobID,
		window.Seconds(),
		workerID,
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire job %d: %w", jobID, err)
	}
	return job, nil
}

// Release unconditionally clears the processing lock.
func (s *Store) Release(ctx context.Context, jobID int64) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET
			processing_lock = FALSE,
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
	)
	return err
}

// MarkProcessing flips a claimed job into processing and stamps the run
// start used by stuck detection.
func (s *Store) MarkProcessing(ctx context.Context, jobID int64) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET
			status = 'processing',
			processing_started_at = NOW(),
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
	)
	return err
}

// MarkPending returns a partially processed job to the claimable pool,
// keeping its cursor. Used on graceful shutdown mid-run.
func (s *Store) MarkPending(ctx context.Context, jobID int64) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET
			status = 'pending',
			processing_lock = FALSE,
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
	)
	return err
}

// ReclaimStuck flips every processing job whose run started before the
// timeout window back to pending with the lock cleared, recording why.
// Progress cursors are untouched; the next claim resumes from them.
func (s *Store) ReclaimStuck(ctx context.Context, window time.Duration, reason string) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET
			status = 'pending',
			processing_lock = FALSE,
			lock_reclaim_reason = $1,
			updated_at = NOW()
		 WHERE status = 'processing'
		   AND processing_started_at < NOW() - make_interval(secs => $2)`,
		reason,
		window.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDue returns ids of jobs worth a claim attempt this cycle: claimable
// status, schedule reached, lock free or expired.
func (s *Store) ListDue(ctx context.Context, window time.Duration, limit int) ([]int64, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id FROM jobs
		 WHERE status IN ('pending','scheduled')
		   AND (NOT scheduled OR scheduled_time <= NOW())
		   AND (processing_lock = FALSE
		        OR processing_lock_acquired_at < NOW() - make_interval(secs => $1))
		 ORDER BY created_at
		 LIMIT $2`,
		window.Seconds(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// JobStatus reads only the status column; the orchestrator polls it as
// its cooperative cancellation check.
func (s *Store) JobStatus(ctx context.Context, jobID int64) (models.JobStatus, error) {
	var status models.JobStatus
	err := s.Pool.QueryRow(ctx,
		`SELECT status FROM jobs WHERE id = $1`, jobID,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("read job %d status: %w", jobID, err)
	}
	return status, nil
}

// FlushProgress applies one batch of outcomes in a single atomic update:
// counters are incremented by the batch tally, outcomes are appended to
// the bounded results window (oldest evicted past the cap), and the
// cursor is set to the first unprocessed index.
func (s *Store) FlushProgress(ctx context.Context, jobID int64, sentDelta, failedDelta, current int, outcomes []models.DeliveryResult) error {
	batch, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	_, err = s.Pool.Exec(ctx,
		`UPDATE jobs SET
			sent = sent + $2,
			failed = failed + $3,
			current_index = $4,
			results = (
				SELECT COALESCE(jsonb_agg(elem ORDER BY ord), '[]'::jsonb)
				FROM jsonb_array_elements(results || $5::jsonb)
				     WITH ORDINALITY AS t(elem, ord)
				WHERE ord > jsonb_array_length(results || $5::jsonb) - $6
			),
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
		sentDelta,
		failedDelta,
		current,
		batch,
		resultsCap,
	)
	if err != nil {
		return fmt.Errorf("flush progress for job %d: %w", jobID, err)
	}
	return nil
}

// MarkCompleted finalizes a fully iterated job and releases the lock in
// the same statement, so a completed job is never observed locked.
func (s *Store) MarkCompleted(ctx context.Context, jobID int64, stats models.DeliveryStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = s.Pool.Exec(ctx,
		`UPDATE jobs SET
			status = 'completed',
			processing_lock = FALSE,
			processing_completed_at = NOW(),
			delivery_stats = $2,
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
		statsJSON,
	)
	return err
}

// MarkFailed flags an aborted job with its error and releases the lock.
func (s *Store) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET
			status = 'failed',
			processing_lock = FALSE,
			processing_completed_at = NOW(),
			last_error = $2,
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
		reason,
	)
	return err
}

// ReserveRefund atomically grants min(amount, deducted - refunded) against
// the job's refund accounting and returns the granted amount. Repeated or
// concurrent invocations can never push points_refunded past
// deducted_points.
func (s *Store) ReserveRefund(ctx context.Context, jobID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	var granted int64
	row := s.Pool.QueryRow(ctx,
		`WITH prior AS (
			SELECT id, GREATEST(LEAST($2::bigint, deducted_points - points_refunded), 0) AS refundable
			FROM jobs WHERE id = $1 FOR UPDATE
		 )
		 UPDATE jobs j SET
			points_refunded = j.points_refunded + prior.refundable,
			updated_at = NOW()
		 FROM prior
		 WHERE j.id = prior.id
		 RETURNING prior.refundable`,
		jobID,
		amount,
	)
	if err := row.Scan(&granted); err != nil {
		return 0, fmt.Errorf("reserve refund for job %d: %w", jobID, err)
	}
	return granted, nil
}

// AppendDelayMetrics stores one batch of pacing telemetry rows.
func (s *Store) AppendDelayMetrics(ctx context.Context, jobID int64, ms []models.DelayMetric) error {
	if len(ms) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range ms {
		batch.Queue(
			`INSERT INTO delay_metrics
				(job_id, message_index, recipient_id, target_ms, actual_ms, mode, recorded_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			jobID, m.MessageIndex, m.RecipientID, m.TargetMs, m.ActualMs, m.Mode, m.Timestamp,
		)
	}
	br := s.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ms {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append delay metrics for job %d: %w", jobID, err)
		}
	}
	return nil
}
