// Package dispatch sends one message to one recipient: it builds the
// provider payload for the job's message type, calls the provider, and
// applies the retry classifier across bounded attempts. It never mutates
// the job record and never lets a provider error escape unclassified.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"SendWave/internal/metrics"
	"SendWave/internal/models"
	"SendWave/internal/provider"
)

// Dispatcher delivers single messages with bounded retries and a global
// provider rate cap shared across all concurrently processed jobs.
type Dispatcher struct {
	sender     provider.Sender
	limiter    *rate.Limiter
	log        *zap.Logger
	maxRetries int
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(sender provider.Sender, limiter *rate.Limiter, logger *zap.Logger, maxRetries int) *Dispatcher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Dispatcher{
		sender:     sender,
		limiter:    limiter,
		log:        logger,
		maxRetries: maxRetries,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

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

// Send dispatches the job's message to one recipient and returns the
// final outcome, including how many retries were performed. All provider
// and network errors are absorbed into the result.
func (d *Dispatcher) Send(ctx context.Context, job *models.Job, rcpt models.Recipient) models.DeliveryResult {
	start := d.now()
	res := models.DeliveryResult{
		RecipientID: rcpt.ID,
		SentAt:      start,
	}

	builder, ok := provider.BuilderFor(job.MessageType)
	if !ok {
		res.Error = fmt.Sprintf("no payload builder for message type %q", job.MessageType)
		res.ErrorCode = "unsupported_type"
		return res
	}
	payload := builder.Build(job, rcpt, start)

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, Backoff(attempt-1)); err != nil {
				lastErr = err
				break
			}
			res.Retries++
			metrics.MessageRetries.Inc()
		}

		id, err := d.attempt(ctx, payload)
		if err == nil {
			res.Success = true
			res.ProviderMessageID = id
			res.ResponseTimeMs = d.now().Sub(start).Milliseconds()
			return res
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if !IsRetryable(err) {
			// A rejected combined template may still go out decomposed.
			if id, ok := d.tryFallback(ctx, builder, job, rcpt, start); ok {
				res.Success = true
				res.ProviderMessageID = id
				res.ResponseTimeMs = d.now().Sub(start).Milliseconds()
				return res
			}
			break
		}

		d.log.Debug("transient dispatch error, retrying",
			zap.Int64("job_id", job.ID),
			zap.String("recipient", rcpt.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	res.ResponseTimeMs = d.now().Sub(start).Milliseconds()
	res.Error = lastErr.Error()
	var perr *provider.Error
	if errors.As(lastErr, &perr) {
		res.ErrorCode = perr.Code
	} else {
		res.ErrorCode = "network"
	}
	return res
}

// attempt performs one rate-limited provider call.
func (d *Dispatcher) attempt(ctx context.Context, p provider.Payload) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	start := d.now()
	id, err := d.sender.Send(ctx, p)
	metrics.ProviderResponseTime.Observe(d.now().Sub(start).Seconds())
	return id, err
}

// tryFallback attempts the decomposed form of a composite template after
// the provider rejected the combined one. Each part gets exactly one
// attempt; the outcome is the last part's message id.
func (d *Dispatcher) tryFallback(ctx context.Context, b provider.Builder, job *models.Job, rcpt models.Recipient, now time.Time) (string, bool) {
	parts := b.Fallback(job, rcpt, now)
	if len(parts) == 0 {
		return "", false
	}

	d.log.Debug("combined template rejected, sending decomposed fallback",
		zap.Int64("job_id", job.ID),
		zap.String("recipient", rcpt.ID),
		zap.Int("parts", len(parts)),
	)

	var lastID string
	for _, p := range parts {
		id, err := d.attempt(ctx, p)
		if err != nil {
			return "", false
		}
		lastID = id
	}
	return lastID, true
}
