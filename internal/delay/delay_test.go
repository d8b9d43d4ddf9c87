package delay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"SendWave/internal/models"
)

func TestComputeFixed(t *testing.T) {
	cfg := models.DelayConfig{Enabled: true, Mode: models.DelayFixed, DelaySeconds: 2}

	got := Compute(cfg, 0, false)
	assert.Equal(t, 2*time.Second, got)
}

func TestComputeDisabled(t *testing.T) {
	cfg := models.DelayConfig{Enabled: false, Mode: models.DelayFixed, DelaySeconds: 2}

	assert.Equal(t, time.Duration(0), Compute(cfg, 0, false))
}

func TestComputeRandomWithinBounds(t *testing.T) {
	cfg := models.DelayConfig{
		Enabled:         true,
		Mode:            models.DelayRandom,
		MinDelaySeconds: 1,
		MaxDelaySeconds: 4,
	}

	for i := 0; i < 100; i++ {
		got := Compute(cfg, i, false)
		assert.GreaterOrEqual(t, got, 1*time.Second)
		assert.LessOrEqual(t, got, 4*time.Second)
	}
}

func TestComputeRandomDegenerateRange(t *testing.T) {
	cfg := models.DelayConfig{
		Enabled:         true,
		Mode:            models.DelayRandom,
		MinDelaySeconds: 3,
		MaxDelaySeconds: 3,
	}

	assert.Equal(t, 3*time.Second, Compute(cfg, 0, false))
}

func TestComputeIncremental(t *testing.T) {
	cfg := models.DelayConfig{
		Enabled:          true,
		Mode:             models.DelayIncremental,
		IncrementalStart: 2,
		IncrementalStep:  3,
	}

	tests := []struct {
		index int
		want  time.Duration
	}{
		{0, 2 * time.Second},
		{1, 5 * time.Second},
		{10, 32 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compute(cfg, tt.index, false))
	}
}

func TestComputeAdaptiveFallsBackToBase(t *testing.T) {
	cfg := models.DelayConfig{
		Enabled:           true,
		Mode:              models.DelayAdaptive,
		AdaptiveBaseDelay: 4,
	}

	assert.Equal(t, 4*time.Second, Compute(cfg, 7, false))
}

func TestComputeMediaSurcharge(t *testing.T) {
	cfg := models.DelayConfig{Enabled: true, Mode: models.DelayFixed, DelaySeconds: 2}

	assert.Equal(t, 3*time.Second, Compute(cfg, 0, true))
}

func TestComputeNegativeClampedToZero(t *testing.T) {
	cfg := models.DelayConfig{Enabled: true, Mode: models.DelayFixed, DelaySeconds: -5}

	assert.Equal(t, time.Duration(0), Compute(cfg, 0, false))
}
