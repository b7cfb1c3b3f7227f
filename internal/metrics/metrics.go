// Package metrics holds the Prometheus collectors for the vote core.
package metrics

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierd_votes_total",
			Help: "Vote mutations applied to the ledger, by applied direction and voter kind.",
		},
		[]string{"applied", "voter"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_anon_rate_limited_total",
			Help: "Anonymous votes rejected by the server-side limit.",
		},
	)

	LedgerConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_ledger_conflicts_total",
			Help: "Ledger writes that still conflicted after their retry.",
		},
	)

	ReconcileCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_reconcile_corrections_total",
			Help: "Products whose counters disagreed with the ledger and were rewritten.",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tierd_reconcile_sweep_duration_seconds",
			Help:    "Duration of full reconcile sweeps.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RankingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_ranking_cache_hits_total",
			Help: "Ranking score cache hits.",
		},
	)

	RankingCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_ranking_cache_misses_total",
			Help: "Ranking score cache misses.",
		},
	)

	BroadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierd_broadcast_failures_total",
			Help: "Delta publish failures, by broker driver.",
		},
		[]string{"driver"},
	)

	BroadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_broadcast_dropped_total",
			Help: "Delta events dropped because a subscriber was too slow.",
		},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tierd_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	RequestsThrottled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierd_requests_throttled_total",
			Help: "Requests rejected by the per-key request throttle, by scope.",
		},
		[]string{"scope"},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tierd_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)
)

var once sync.Once

// Register adds every collector to the default registry. Pool gauges are
// added when pool is non-nil. Safe to call more than once.
func Register(pool *pgxpool.Pool) {
	once.Do(func() {
		prometheus.MustRegister(
			VotesTotal,
			RateLimited,
			LedgerConflicts,
			ReconcileCorrections,
			ReconcileDuration,
			RankingCacheHits,
			RankingCacheMisses,
			BroadcastFailures,
			BroadcastDropped,
			RequestDuration,
			RequestsThrottled,
			RequestsInFlight,
		)

		if pool == nil {
			return
		}
		prometheus.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "tierd_db_connection_pool_active",
					Help: "Number of active database connections.",
				},
				func() float64 { return float64(pool.Stat().AcquiredConns()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "tierd_db_connection_pool_idle",
					Help: "Number of idle database connections.",
				},
				func() float64 { return float64(pool.Stat().IdleConns()) },
			),
		)
	})
}
