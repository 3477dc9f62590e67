package pipeline

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/revealrank/revealrank/internal/fetch"
)

const (
	defaultRetryDelay         = time.Second
	defaultRetryAfterFallback = 5 * time.Second
)

// RetryPolicy decides whether a fetch outcome is retried and after which delay.
// Zero MaxAttempts and MaxElapsed mean unbounded.
type RetryPolicy struct {
	// RetryDelay applies to timeouts, refused and reset connections.
	RetryDelay time.Duration
	// RetryAfterFallback applies to 429 responses without a usable Retry-After.
	RetryAfterFallback time.Duration
	MaxAttempts        int
	MaxElapsed         time.Duration
}

// DefaultRetryPolicy retries transient failures forever: the collection size is fixed
// and bounded, so every item eventually resolves.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryDelay:         defaultRetryDelay,
		RetryAfterFallback: defaultRetryAfterFallback,
	}
}

// Decide returns whether to retry resp and the delay before the next attempt.
// attempts counts attempts made so far; started is the first attempt's start.
// Only statuses in the transient network class are retried.
func (p RetryPolicy) Decide(resp fetch.Response, attempts int, started, now time.Time) (bool, time.Duration) {
	if !resp.Status.ErrorCode().Retryable() {
		return false, 0
	}

	var delay time.Duration
	switch resp.Status.Kind() {
	case fetch.KindSuccess:
		return false, 0
	case fetch.KindHTTP:
		delay = ParseRetryAfter(resp.Header, p.RetryAfterFallback, now)
	case fetch.KindTransport:
		delay = p.RetryDelay
	}

	if p.Exhausted(attempts, started, now.Add(delay)) {
		return false, 0
	}
	return true, delay
}

// Exhausted reports whether another attempt starting at next would exceed the
// attempt or elapsed-time bound.
func (p RetryPolicy) Exhausted(attempts int, started, next time.Time) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	return p.MaxElapsed > 0 && next.Sub(started) > p.MaxElapsed
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
// Missing or unparseable values yield fallback.
func ParseRetryAfter(h http.Header, fallback time.Duration, now time.Time) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
