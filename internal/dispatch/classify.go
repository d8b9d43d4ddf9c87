package dispatch

import (
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"SendWave/internal/provider"
)

// transientCodes is the allow-list of provider error codes that represent
// throttling or temporary unavailability.
var transientCodes = map[string]bool{
	"rate_limited":            true,
	"throttled":               true,
	"server_busy":             true,
	"temporarily_unavailable": true,
	"service_overloaded":      true,
}

// transientPhrases is the substring fallback on the provider message when
// the code is missing or unrecognized.
var transientPhrases = []string{
	"too many requests",
	"try again later",
	"temporarily unavailable",
}

// IsRetryable reports whether a dispatch error is worth another attempt.
// Connection-level failures (no response received) and HTTP 429 always
// are; other provider responses only when they match the transient
// allow-list. Everything else (invalid recipient, malformed payload,
// permission errors) is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *provider.Error
	if !errors.As(err, &perr) {
		// No structured provider response: connection reset, timeout, DNS.
		return true
	}

	if perr.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	if transientCodes[perr.Code] {
		return true
	}

	msg := strings.ToLower(perr.Message)
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

const (
	backoffBase   = 1000 * time.Millisecond
	backoffCap    = 10000 * time.Millisecond
	backoffJitter = 100 * time.Millisecond
	backoffFloor  = 500 * time.Millisecond
)

// Backoff returns the wait before retry number attempt (0-based):
// exponential from 1s doubling per attempt, capped at 10s, with ±100ms
// jitter and a 500ms floor.
func Backoff(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}

	jitter := time.Duration(rand.Int63n(int64(2*backoffJitter))) - backoffJitter
	d += jitter
	if d < backoffFloor {
		d = backoffFloor
	}
	return d
}
