// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide registry served by Handler.
var Registry = prometheus.NewRegistry()

var (
	// HitsTotal counts tracking requests by outcome.
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pwa_hits_total",
			Help: "Tracking requests by outcome",
		},
		[]string{"outcome"},
	)

	// AggregationRuns counts aggregation runs by job and result.
	AggregationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pwa_aggregation_runs_total",
			Help: "Aggregation runs by job and result",
		},
		[]string{"job", "result"},
	)

	// AggregationGroups counts rollup groups written or failed.
	AggregationGroups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pwa_aggregation_groups_total",
			Help: "Rollup groups upserted by job and result",
		},
		[]string{"job", "result"},
	)

	// AggregationRecords counts fact rows scanned by aggregation.
	AggregationRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pwa_aggregation_records_total",
			Help: "Hit rows scanned by aggregation job",
		},
		[]string{"job"},
	)

	// StatsFallbacks counts aggregated dashboard reads that fell back to raw hits.
	StatsFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pwa_stats_aggregated_fallback_total",
			Help: "Aggregated stats queries that fell back to realtime",
		},
	)

	// ExportsTotal counts finished exports by status.
	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pwa_exports_total",
			Help: "Finished exports by status",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HitsTotal,
		AggregationRuns,
		AggregationGroups,
		AggregationRecords,
		StatsFallbacks,
		ExportsTotal,
	)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
