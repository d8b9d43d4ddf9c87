package delay

import (
	"math/rand"
	"time"

	"SendWave/internal/models"
)

// mediaSurcharge is added for images, videos and rich templates.
const mediaSurcharge = 1000 * time.Millisecond

// Compute returns the pacing target to wait after the message at
// messageIndex. Modes are deterministic given their inputs except random.
//
// Incremental growth is unbounded here; callers apply any ceiling.
func Compute(cfg models.DelayConfig, messageIndex int, hasMedia bool) time.Duration {
	if !cfg.Enabled {
		return 0
	}

	var base time.Duration
	switch cfg.Mode {
	case models.DelayFixed:
		base = time.Duration(cfg.DelaySeconds) * time.Second
	case models.DelayRandom:
		base = randomBetween(cfg.MinDelaySeconds, cfg.MaxDelaySeconds)
	case models.DelayIncremental:
		base = time.Duration(cfg.IncrementalStart+messageIndex*cfg.IncrementalStep) * time.Second
	case models.DelayAdaptive:
		// Adaptive behaves as fixed with a tunable base; see DESIGN.md.
		base = time.Duration(cfg.AdaptiveBaseDelay) * time.Second
	default:
		return 0
	}

	if base < 0 {
		base = 0
	}
	if hasMedia {
		base += mediaSurcharge
	}
	return base
}

// randomBetween draws a uniform duration in [min, max] whole seconds.
// min >= max is a configuration error rejected at job creation, but a
// degenerate range still yields the lower bound rather than panicking.
func randomBetween(minSec, maxSec int) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec) * time.Second
	}
	n := rand.Intn(maxSec-minSec+1) + minSec
	return time.Duration(n) * time.Second
}
