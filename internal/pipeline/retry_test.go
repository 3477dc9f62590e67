package pipeline

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/revealrank/revealrank/internal/fetch"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fallback := 5 * time.Second

	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"seconds", "3", 3 * time.Second},
		{"zero seconds", "0", 0},
		{"missing", "", fallback},
		{"garbage", "soon", fallback},
		{"negative", "-4", fallback},
		{"http date", now.Add(7 * time.Second).Format(http.TimeFormat), 7 * time.Second},
		{"http date in the past", now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, ParseRetryAfter(h, fallback, now))
		})
	}
}

func TestRetryPolicy_Decide(t *testing.T) {
	now := time.Now()
	p := RetryPolicy{RetryDelay: time.Second, RetryAfterFallback: 4 * time.Second}
	rateLimited := fetch.Response{Status: "429", Header: http.Header{"Retry-After": []string{"2"}}}

	tests := []struct {
		name      string
		resp      fetch.Response
		wantRetry bool
		wantDelay time.Duration
	}{
		{"ok", fetch.Response{Status: fetch.StatusOK}, false, 0},
		{"timeout", fetch.Response{Status: fetch.StatusTimeout}, true, time.Second},
		{"refused", fetch.Response{Status: fetch.StatusConnectionRefused}, true, time.Second},
		{"reset", fetch.Response{Status: fetch.StatusConnectionReset}, true, time.Second},
		{"connect timeout is terminal", fetch.Response{Status: fetch.StatusConnectionTimeout}, false, 0},
		{"unknown is terminal", fetch.Response{Status: fetch.StatusUnknownError}, false, 0},
		{"canceled is terminal", fetch.Response{Status: fetch.StatusCanceled}, false, 0},
		{"429 honours header", rateLimited, true, 2 * time.Second},
		{"429 without header", fetch.Response{Status: "429"}, true, 4 * time.Second},
		{"404 is terminal", fetch.Response{Status: "404"}, false, 0},
		{"500 is terminal", fetch.Response{Status: "500"}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, delay := p.Decide(tt.resp, 1, now, now)
			assert.Equal(t, tt.wantRetry, retry)
			assert.Equal(t, tt.wantDelay, delay)
		})
	}
}

func TestRetryPolicy_Limits(t *testing.T) {
	now := time.Now()
	timeout := fetch.Response{Status: fetch.StatusTimeout}

	bounded := RetryPolicy{RetryDelay: time.Second, MaxAttempts: 3}
	retry, _ := bounded.Decide(timeout, 2, now, now)
	assert.True(t, retry)
	retry, _ = bounded.Decide(timeout, 3, now, now)
	assert.False(t, retry)

	elapsed := RetryPolicy{RetryDelay: time.Second, MaxElapsed: 10 * time.Second}
	retry, _ = elapsed.Decide(timeout, 50, now, now.Add(8*time.Second))
	assert.True(t, retry)
	retry, _ = elapsed.Decide(timeout, 50, now, now.Add(9500*time.Millisecond))
	assert.False(t, retry)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	now := time.Now()

	assert.False(t, RetryPolicy{}.Exhausted(1000, now, now.Add(24*time.Hour)), "zero bounds are unbounded")

	p := RetryPolicy{MaxAttempts: 2, MaxElapsed: time.Minute}
	assert.False(t, p.Exhausted(1, now, now.Add(30*time.Second)))
	assert.True(t, p.Exhausted(2, now, now.Add(30*time.Second)))
	assert.True(t, p.Exhausted(1, now, now.Add(61*time.Second)))
}
