// Package metrics holds the Prometheus instrumentation for the server. All
// collectors register on the default registry, which the router serves at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProvisionRuns counts finished provision runs by final status.
	ProvisionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardlab_provision_runs_total",
		Help: "Provision runs finished, labeled by final status.",
	}, []string{"status"})

	// ProvisionDuration observes wall time spent applying provision runs.
	ProvisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardlab_provision_duration_seconds",
		Help:    "Wall time of provision runs in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// Deltas counts feed delta submissions by operation and validation result.
	Deltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardlab_deltas_total",
		Help: "Feed delta submissions, labeled by operation and validation result.",
	}, []string{"operation", "result"})
)
