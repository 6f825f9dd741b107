// Package metrics exposes the engine's Prometheus instrumentation.
// Collectors register on the default registry and are served by the
// monitor's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APICalls counts collaborator calls by endpoint and outcome.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypermirror_api_calls_total",
		Help: "API calls observed at the exchange boundary",
	}, []string{"endpoint", "status"})

	// RateDecisions counts governor verdicts.
	RateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypermirror_rate_decisions_total",
		Help: "Rate governor decisions by kind",
	}, []string{"decision"})

	// CallsPerMinute is the rolling aggregate call rate from the ledger.
	CallsPerMinute = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hypermirror_calls_per_minute",
		Help: "Aggregate ledger call rate over the last minute",
	})

	// OrdersSubmitted counts replication orders by change kind and outcome.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypermirror_orders_submitted_total",
		Help: "Mirrored orders by change kind and outcome",
	}, []string{"kind", "outcome"})

	// CacheHits and CacheMisses track snapshot cache effectiveness.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hypermirror_snapshot_cache_hits_total",
		Help: "Snapshot cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hypermirror_snapshot_cache_misses_total",
		Help: "Snapshot cache misses",
	})

	// MirroredPositions is the number of symbols currently mirrored.
	MirroredPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hypermirror_mirrored_positions",
		Help: "Symbols currently mirrored on the controller account",
	})

	// CycleDuration observes full replication cycle latency.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hypermirror_cycle_duration_seconds",
		Help:    "Replication cycle duration",
		Buckets: prometheus.DefBuckets,
	})
)
