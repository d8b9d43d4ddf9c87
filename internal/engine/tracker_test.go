package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"SendWave/internal/models"
)

type flushCall struct {
	sent, failed, current int
	outcomes              []models.DeliveryResult
}

type fakeProgressStore struct {
	flushes    []flushCall
	metricRows [][]models.DelayMetric
	flushErr   error
	metricErr  error
}

func (f *fakeProgressStore) FlushProgress(_ context.Context, _ int64, sent, failed, current int, outcomes []models.DeliveryResult) error {
	if f.flushErr != nil {
		return f.flushErr
	}
	copied := make([]models.DeliveryResult, len(outcomes))
	copy(copied, outcomes)
	f.flushes = append(f.flushes, flushCall{sent: sent, failed: failed, current: current, outcomes: copied})
	return nil
}

func (f *fakeProgressStore) AppendDelayMetrics(_ context.Context, _ int64, ms []models.DelayMetric) error {
	if f.metricErr != nil {
		return f.metricErr
	}
	copied := make([]models.DelayMetric, len(ms))
	copy(copied, ms)
	f.metricRows = append(f.metricRows, copied)
	return nil
}

func ok(id string) models.DeliveryResult {
	return models.DeliveryResult{RecipientID: id, Success: true}
}

func bad(id string) models.DeliveryResult {
	return models.DeliveryResult{RecipientID: id, ErrorCode: "invalid_recipient"}
}

func TestTrackerFlushesEveryN(t *testing.T) {
	store := &fakeProgressStore{}
	tr := NewTracker(store, 1, 3, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, ok("a"), 1))
	require.NoError(t, tr.Record(ctx, bad("b"), 2))
	assert.Empty(t, store.flushes, "no flush before the batch fills")

	require.NoError(t, tr.Record(ctx, ok("c"), 3))
	require.Len(t, store.flushes, 1)

	got := store.flushes[0]
	assert.Equal(t, 2, got.sent)
	assert.Equal(t, 1, got.failed)
	assert.Equal(t, 3, got.current)
	assert.Len(t, got.outcomes, 3)
}

func TestTrackerFinalFlushDrainsRemainder(t *testing.T) {
	store := &fakeProgressStore{}
	tr := NewTracker(store, 1, 5, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, ok("a"), 1))
	require.NoError(t, tr.Record(ctx, ok("b"), 2))
	require.NoError(t, tr.Flush(ctx))

	require.Len(t, store.flushes, 1)
	assert.Equal(t, 2, store.flushes[0].sent)
	assert.Equal(t, 2, store.flushes[0].current)
}

func TestTrackerDeltasResetBetweenFlushes(t *testing.T) {
	store := &fakeProgressStore{}
	tr := NewTracker(store, 1, 2, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, ok("a"), 1))
	require.NoError(t, tr.Record(ctx, ok("b"), 2))
	require.NoError(t, tr.Record(ctx, bad("c"), 3))
	require.NoError(t, tr.Flush(ctx))

	require.Len(t, store.flushes, 2)
	assert.Equal(t, 2, store.flushes[0].sent)
	assert.Equal(t, 0, store.flushes[0].failed)
	assert.Equal(t, 0, store.flushes[1].sent)
	assert.Equal(t, 1, store.flushes[1].failed)
	assert.Equal(t, 3, store.flushes[1].current)
}

func TestTrackerEmptyFlushIsNoop(t *testing.T) {
	store := &fakeProgressStore{}
	tr := NewTracker(store, 1, 5, zap.NewNop())

	require.NoError(t, tr.Flush(context.Background()))
	assert.Empty(t, store.flushes)
}

func TestTrackerProgressErrorPropagates(t *testing.T) {
	store := &fakeProgressStore{flushErr: errors.New("db down")}
	tr := NewTracker(store, 1, 1, zap.NewNop())

	err := tr.Record(context.Background(), ok("a"), 1)
	assert.Error(t, err)
}

func TestTrackerTelemetryErrorIsNotFatal(t *testing.T) {
	store := &fakeProgressStore{metricErr: errors.New("db hiccup")}
	tr := NewTracker(store, 1, 5, zap.NewNop())

	tr.RecordDelay(models.DelayMetric{MessageIndex: 0, TargetMs: 2000, ActualMs: 2003})
	assert.NoError(t, tr.Flush(context.Background()))
}

func TestTrackerShipsDelayMetricsWithFlush(t *testing.T) {
	store := &fakeProgressStore{}
	tr := NewTracker(store, 1, 5, zap.NewNop())
	ctx := context.Background()

	tr.RecordDelay(models.DelayMetric{MessageIndex: 0, TargetMs: 2000, ActualMs: 2001})
	tr.RecordDelay(models.DelayMetric{MessageIndex: 1, TargetMs: 2000, ActualMs: 1999})
	require.NoError(t, tr.Record(ctx, ok("a"), 1))
	require.NoError(t, tr.Flush(ctx))

	require.Len(t, store.metricRows, 1)
	assert.Len(t, store.metricRows[0], 2)
}
