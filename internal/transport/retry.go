package transport

import (
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Zeeeepa/browserqa/internal/config"
)

// retryableOSErrorSubstrings are matched against a network error's string
// form to classify it as transient. Grounded on the teacher's
// internal/ratelimit/detector.go pattern of ordered substring matching
// against response/error text.
var retryableOSErrorSubstrings = []string{
	"connection reset",
	"broken pipe",
	"connection refused",
	"connection aborted",
	"remote disconnect",
	"bad status line",
	"no such host",
	"EOF",
	"i/o timeout",
}

// isRetryableNetError reports whether err looks like a transient
// connection-level failure worth retrying, per §4.1's retry list.
func isRetryableNetError(err error) bool {
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range retryableOSErrorSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isRetryableStatus reports whether a response status, on its own
// (no connection error), is one a caller could plausibly retry after
// waiting - used only to set TransportError.Retryable for callers,
// never to drive an automatic retry here: per §4.1/§7, only
// connection-layer failures are retried locally, and a 429's
// Retry-After must reach the caller intact.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway:
		return true
	}
	return false
}

// backoffDelay computes the delay before the next retry attempt (0-based
// retry index, as retryablehttp's Backoff callback passes it, so the
// first retry waits about InitialDelay) per the formula in §4.1:
//
//	delay = min(initial * multiplier^attempt, max) * (1 + jitter*U(-1,1))
//
// always clamped to >= 0.
func backoffDelay(policy config.RetryPolicy, attempt int) time.Duration {
	raw := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	capped := math.Min(raw, float64(policy.MaxDelay))

	jitter := policy.JitterFactor * (rand.Float64()*2 - 1)
	delayed := capped * (1 + jitter)
	if delayed < 0 {
		delayed = 0
	}
	return time.Duration(delayed)
}
