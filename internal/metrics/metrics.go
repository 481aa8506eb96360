// Package metrics holds the prometheus collectors shared by the probes,
// reconciliation jobs and routing sync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "domainwarden"

var (
	ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_results_total",
		Help:      "Probe classifications by probe kind and result.",
	}, []string{"probe", "result"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job executions by outcome (ok, error, skipped).",
	}, []string{"job", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time of one reconciliation pass.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"job"})

	RoutingSync = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routing_sync_total",
		Help:      "Fast-read store writes by operation and outcome.",
	}, []string{"op", "outcome"})

	TrafficDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "traffic_drained_total",
		Help:      "Traffic counter volume moved into the relational store.",
	}, []string{"kind"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
