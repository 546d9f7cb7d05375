// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PriceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klingfolio_price_fetches_total",
			Help: "External price fetches per source and result",
		},
		[]string{"source", "result"},
	)

	PriceFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "klingfolio_price_fetch_duration_seconds",
			Help:    "External price fetch duration in seconds per source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	PriceCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klingfolio_price_cache_lookups_total",
			Help: "Price cache lookups per outcome (hit, stale, miss, coalesced)",
		},
		[]string{"outcome"},
	)

	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klingfolio_quotes_total",
			Help: "Simulated swap quotes per outcome",
		},
		[]string{"outcome"},
	)

	BalanceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klingfolio_balance_fetches_total",
			Help: "Balance lookups per chain and result",
		},
		[]string{"chain", "result"},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klingfolio_rpc_requests_total",
			Help: "JSON-RPC requests per method and result",
		},
		[]string{"method", "result"},
	)

	RPCRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "klingfolio_rpc_request_duration_seconds",
			Help:    "JSON-RPC request duration in seconds per method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	FavoritesCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klingfolio_favorites",
			Help: "Number of favorite tokens per chain",
		},
		[]string{"chain"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "klingfolio_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klingfolio_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klingfolio_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klingfolio_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

// Result maps an error to a "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePriceFetch records one external price fetch.
func ObservePriceFetch(source string, startedAt time.Time, err error) {
	PriceFetchDurationSeconds.WithLabelValues(source).Observe(time.Since(startedAt).Seconds())
	PriceFetchesTotal.WithLabelValues(source, Result(err)).Inc()
}

// UpdateJobMetrics records the outcome of a scheduled job run.
func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}

// SetFavoriteCounts replaces the per-chain favorites gauge.
func SetFavoriteCounts(counts map[uint64]int, label func(uint64) string) {
	FavoritesCount.Reset()
	for id, n := range counts {
		FavoritesCount.WithLabelValues(label(id)).Set(float64(n))
	}
}
