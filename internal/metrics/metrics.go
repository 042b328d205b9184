// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProvisionTotal counts provisioning attempts by result
	// (cached, installed, failed).
	ProvisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csvls_provision_total",
		Help: "Validator provisioning attempts by result",
	}, []string{"result"})

	// ValidationTotal counts validator runs by outcome.
	ValidationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csvls_validation_total",
		Help: "Validator runs by outcome",
	}, []string{"outcome", "transport"})

	// ValidationDuration tracks validator process latency.
	ValidationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csvls_validation_duration_seconds",
		Help:    "Validator run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"transport"})

	// StaleResults counts outcomes dropped because a newer run was issued.
	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csvls_validation_stale_total",
		Help: "Validation results discarded because a newer run superseded them",
	})

	// DocumentsWithDiagnostics is the number of documents currently carrying diagnostics.
	DocumentsWithDiagnostics = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csvls_documents_with_diagnostics",
		Help: "Documents with at least one published diagnostic",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
