package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFetchResult(t *testing.T) {
	before := testutil.ToFloat64(fetchResults.WithLabelValues("metrics-test", "200"))
	FetchResult("metrics-test", "200")
	FetchResult("metrics-test", "200")
	assert.Equal(t, before+2, testutil.ToFloat64(fetchResults.WithLabelValues("metrics-test", "200")))
}

func TestFetchAttempt_InFlightGauge(t *testing.T) {
	done := FetchAttempt("metrics-inflight")
	assert.Equal(t, 1.0, testutil.ToFloat64(fetchInFlight.WithLabelValues("metrics-inflight")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(fetchInFlight.WithLabelValues("metrics-inflight")))
}

func TestCacheLookup(t *testing.T) {
	CacheLookup("metrics-cache", true)
	CacheLookup("metrics-cache", false)
	CacheLookup("metrics-cache", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(cacheLookups.WithLabelValues("metrics-cache", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(cacheLookups.WithLabelValues("metrics-cache", "miss")))
}

func TestObserveRecompute(t *testing.T) {
	ObserveRecompute("metrics-recompute", 5*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(recomputeDuration))
}
