// Package metrics exposes Prometheus collectors for the fetch pipeline, reveal polling
// and rarity engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch metrics
	fetchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revealrank_fetch_results_total",
			Help: "Terminal fetch outcomes by status",
		},
		[]string{"project", "status"},
	)

	fetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revealrank_fetch_retries_total",
			Help: "Retries scheduled by triggering status",
		},
		[]string{"project", "status"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revealrank_fetch_duration_seconds",
			Help:    "Duration of single fetch attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"project"},
	)

	fetchInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "revealrank_fetch_in_flight",
			Help: "Fetch attempts currently in flight",
		},
		[]string{"project"},
	)

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revealrank_cache_lookups_total",
			Help: "Cache lookups by result",
		},
		[]string{"project", "result"},
	)

	// Reveal metrics
	revealPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revealrank_reveal_polls_total",
			Help: "Reveal polling ticks by resulting state",
		},
		[]string{"project", "state"},
	)

	// Engine metrics
	itemsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revealrank_items_ingested_total",
			Help: "Items applied to the collection by final item status",
		},
		[]string{"project", "status"},
	)

	recomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revealrank_recompute_duration_seconds",
			Help:    "Duration of full rarity recomputations",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"project"},
	)
)

// FetchResult records a terminal fetch outcome.
func FetchResult(project, status string) {
	fetchResults.WithLabelValues(project, status).Inc()
}

// FetchRetry records a scheduled retry.
func FetchRetry(project, status string) {
	fetchRetries.WithLabelValues(project, status).Inc()
}

// FetchAttempt tracks one in-flight attempt; call the returned func when it ends.
func FetchAttempt(project string) func() {
	start := time.Now()
	g := fetchInFlight.WithLabelValues(project)
	g.Inc()
	return func() {
		g.Dec()
		fetchDuration.WithLabelValues(project).Observe(time.Since(start).Seconds())
	}
}

// CacheLookup records a cache hit or miss.
func CacheLookup(project string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(project, result).Inc()
}

// RevealPoll records one reveal polling tick.
func RevealPoll(project, state string) {
	revealPolls.WithLabelValues(project, state).Inc()
}

// ItemIngested records an item reaching a final status in the collection.
func ItemIngested(project, status string) {
	itemsIngested.WithLabelValues(project, status).Inc()
}

// ObserveRecompute records the duration of a rarity recomputation.
func ObserveRecompute(project string, d time.Duration) {
	recomputeDuration.WithLabelValues(project).Observe(d.Seconds())
}
