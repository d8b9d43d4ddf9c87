// Package billing reconciles pre-debited points against delivery
// outcomes. Refunds are always capped by the job's remaining outstanding
// balance, so running reconciliation twice can never over-refund.
package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"SendWave/internal/ledger"
	"SendWave/internal/metrics"
	"SendWave/internal/models"
)

// RefundStore is the job-side refund accounting: an atomic, capped
// increment of points_refunded returning the granted amount.
type RefundStore interface {
	ReserveRefund(ctx context.Context, jobID int64, amount int64) (int64, error)
}

// Alerter receives operational notifications that need human follow-up.
type Alerter interface {
	Notify(subject, body string)
}

type Reconciler struct {
	store  RefundStore
	ledger ledger.Ledger
	alerts Alerter
	log    *zap.Logger
}

func NewReconciler(store RefundStore, l ledger.Ledger, alerts Alerter, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, ledger: l, alerts: alerts, log: logger}
}

// Reconcile refunds failureCount messages worth of points, bounded by the
// job's remaining outstanding balance. Returns the granted amount.
func (r *Reconciler) Reconcile(ctx context.Context, job *models.Job, failureCount int) (int64, error) {
	if failureCount <= 0 {
		return 0, nil
	}
	amount := int64(failureCount) * job.PointsPerMessage
	reason := fmt.Sprintf("refund for %d failed deliveries in campaign #%d", failureCount, job.ID)
	return r.refund(ctx, job, amount, reason)
}

// ReconcileFull refunds the entire remaining balance. Used when a job
// aborts before or during its run with no meaningful delivery accounting.
func (r *Reconciler) ReconcileFull(ctx context.Context, job *models.Job) (int64, error) {
	reason := fmt.Sprintf("full refund for aborted campaign #%d", job.ID)
	return r.refund(ctx, job, job.DeductedPoints, reason)
}

func (r *Reconciler) refund(ctx context.Context, job *models.Job, amount int64, reason string) (int64, error) {
	granted, err := r.store.ReserveRefund(ctx, job.ID, amount)
	if err != nil {
		return 0, fmt.Errorf("reserve refund: %w", err)
	}
	if granted == 0 {
		return 0, nil
	}

	if err := r.ledger.Credit(ctx, job.OwnerID, granted, reason); err != nil {
		// The grant is already reserved against the job; crediting again
		// automatically would risk a double refund, so this goes to a
		// human instead.
		r.log.Error("ledger credit failed, manual follow-up required",
			zap.Int64("job_id", job.ID),
			zap.Int64("owner_id", job.OwnerID),
			zap.Int64("amount", granted),
			zap.Error(err),
		)
		r.alerts.Notify(
			fmt.Sprintf("ledger credit failed for campaign #%d", job.ID),
			fmt.Sprintf("user %d is owed %d points (%s): %v", job.OwnerID, granted, reason, err),
		)
		return granted, nil
	}

	metrics.PointsRefunded.Add(float64(granted))
	r.log.Info("points reconciled",
		zap.Int64("job_id", job.ID),
		zap.Int64("amount", granted),
	)
	return granted, nil
}
