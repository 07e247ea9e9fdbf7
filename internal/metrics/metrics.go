// Package metrics exposes Prometheus collectors for mining runs and the HTTP API.
//
// Run metrics:
//   - affinity_runs_total{analysis_type,status}
//   - affinity_run_duration_seconds{analysis_type}
//   - affinity_combinations_evaluated_total{analysis_type}
//   - affinity_combinations_retained{analysis_type}
//   - affinity_degenerate_fits_total{analysis_type}
//
// API metrics:
//   - affinity_http_requests_total{method,route,status}
//   - affinity_http_request_duration_seconds{method,route}
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinity_runs_total",
			Help: "Mining runs by final status",
		},
		[]string{"analysis_type", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "affinity_run_duration_seconds",
			Help:    "Wall time of a mining run",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"analysis_type"},
	)

	CombinationsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinity_combinations_evaluated_total",
			Help: "Item pairs fitted and scored",
		},
		[]string{"analysis_type"},
	)

	CombinationsRetained = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "affinity_combinations_retained",
			Help: "Ranked pairs persisted by the latest run",
		},
		[]string{"analysis_type"},
	)

	DegenerateFits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinity_degenerate_fits_total",
			Help: "Fits that hit a singular Hessian or the iteration cap without converging",
		},
		[]string{"analysis_type"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affinity_http_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "affinity_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordRun records the outcome of one mining run.
func RecordRun(analysisType, status string, d time.Duration, evaluated, retained, degenerate int) {
	RunsTotal.WithLabelValues(analysisType, status).Inc()
	RunDuration.WithLabelValues(analysisType).Observe(d.Seconds())
	CombinationsEvaluated.WithLabelValues(analysisType).Add(float64(evaluated))
	DegenerateFits.WithLabelValues(analysisType).Add(float64(degenerate))
	if status == "completed" || status == "partial" {
		CombinationsRetained.WithLabelValues(analysisType).Set(float64(retained))
	}
}

// RecordRequest records one API request.
func RecordRequest(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
