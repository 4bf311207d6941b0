// Package metrics exposes Prometheus metrics for store round trips and the
// decisions the read and write paths make along the way.
//
// Metrics are registered with the default registry by InitMetrics. Until
// then every Record function is a no-op, so library callers that never
// enable metrics pay nothing.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Clash resolutions.
const (
	ClashRaised      = "raised"
	ClashPreserved   = "preserved"
	ClashOverwritten = "overwritten"
	ClashForced      = "forced"
)

var (
	storeCallsTotal   *prometheus.CounterVec
	storeCallDuration *prometheus.HistogramVec
	batchSize         prometheus.Histogram
	fallbackTotal     *prometheus.CounterVec
	stageDriftTotal   *prometheus.CounterVec
	envClashTotal     *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// InitMetrics registers all metrics with the default Prometheus registry.
// It is safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		storeCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretstage_store_calls_total",
				Help: "Total number of secret store calls",
			},
			[]string{"op", "outcome"},
		)

		storeCallDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretstage_store_call_duration_seconds",
				Help:    "Duration of secret store calls in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		)

		batchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secretstage_batch_size",
				Help:    "Number of secrets requested per batch read",
				Buckets: []float64{1, 2, 5, 10, 15, 20},
			},
		)

		fallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretstage_fallback_fetches_total",
				Help: "Total number of single-secret reads for pinned older stages",
			},
			[]string{"outcome"},
		)

		stageDriftTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretstage_stage_drift_total",
				Help: "Secrets whose store labels carry no recognisable stage",
			},
			[]string{"path"},
		)

		envClashTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretstage_env_clashes_total",
				Help: "Fetched values that disagreed with the existing environment",
			},
			[]string{"resolution"},
		)

		metricsRegistered.Store(true)
	})
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered.Load()
}

// RecordStoreCall records one store round trip started at start. notFound
// distinguishes a tolerated miss from a failure.
func RecordStoreCall(op string, start time.Time, err error, notFound bool) {
	if !IsMetricsRegistered() {
		return
	}

	outcome := OutcomeSuccess
	switch {
	case notFound:
		outcome = OutcomeNotFound
	case err != nil:
		outcome = OutcomeError
	}
	storeCallsTotal.WithLabelValues(op, outcome).Inc()
	storeCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordBatchSize records the number of keys sent in one batch read.
func RecordBatchSize(n int) {
	if !IsMetricsRegistered() {
		return
	}
	batchSize.Observe(float64(n))
}

// RecordFallback records a pinned-stage read and whether it found the stage.
func RecordFallback(found bool) {
	if !IsMetricsRegistered() {
		return
	}
	outcome := OutcomeSuccess
	if !found {
		outcome = OutcomeNotFound
	}
	fallbackTotal.WithLabelValues(outcome).Inc()
}

// RecordDrift records a secret with no stage label. path is "read" or
// "write".
func RecordDrift(path string) {
	if !IsMetricsRegistered() {
		return
	}
	stageDriftTotal.WithLabelValues(path).Inc()
}

// RecordClash records how an environment clash was resolved.
func RecordClash(resolution string) {
	if !IsMetricsRegistered() {
		return
	}
	envClashTotal.WithLabelValues(resolution).Inc()
}

// StoreCalls returns the store call counter for testing.
func StoreCalls() *prometheus.CounterVec {
	return storeCallsTotal
}

// Fallbacks returns the fallback counter for testing.
func Fallbacks() *prometheus.CounterVec {
	return fallbackTotal
}

// Drift returns the drift counter for testing.
func Drift() *prometheus.CounterVec {
	return stageDriftTotal
}

// Clashes returns the clash counter for testing.
func Clashes() *prometheus.CounterVec {
	return envClashTotal
}

// WriteTextfile writes the default registry in the node-exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
