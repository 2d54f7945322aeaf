// Package metrics exposes Prometheus collectors for the fetch engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal       *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec
	retriesTotal       prometheus.Counter
	rateWaitSeconds    prometheus.Histogram
	adaptiveRateGauge  prometheus.Gauge
	activeWorkers      prometheus.Gauge
	identitiesDisabled prometheus.Counter
	pagesEmitted       *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skimmer_fetches_total",
				Help: "Fetch attempts, labeled by strategy and HTTP status.",
			},
			[]string{"strategy", "status"},
		)
		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skimmer_fetch_duration_seconds",
				Help:    "Fetch latency by strategy.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy"},
		)
		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "skimmer_retries_total",
				Help: "Retries scheduled by the retry policy.",
			},
		)
		rateWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skimmer_rate_wait_seconds",
				Help:    "Time workers spent blocked on the rate controller.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
		adaptiveRateGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "skimmer_adaptive_rate_rps",
				Help: "Current target rate of the adaptive controller.",
			},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "skimmer_active_workers",
				Help: "Workers currently processing a work item.",
			},
		)
		identitiesDisabled = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "skimmer_identities_disabled_total",
				Help: "Identities disabled after repeated proxy failures.",
			},
		)
		pagesEmitted = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skimmer_pagination_emitted_total",
				Help: "Follow-up targets emitted per pagination strategy.",
			},
			[]string{"strategy"},
		)
	})
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(strategy string, status int, elapsed time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(strategy, strconv.Itoa(status)).Inc()
	fetchDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// IncRetries counts a scheduled retry.
func IncRetries() {
	if retriesTotal != nil {
		retriesTotal.Inc()
	}
}

// ObserveRateWait records time spent waiting for a rate token.
func ObserveRateWait(d time.Duration) {
	if rateWaitSeconds != nil {
		rateWaitSeconds.Observe(d.Seconds())
	}
}

// SetAdaptiveRate publishes the adaptive controller's current rate.
func SetAdaptiveRate(rps float64) {
	if adaptiveRateGauge != nil {
		adaptiveRateGauge.Set(rps)
	}
}

// IncActiveWorkers marks a worker busy.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers marks a worker idle.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// IncIdentitiesDisabled counts an identity taken out of rotation.
func IncIdentitiesDisabled() {
	if identitiesDisabled != nil {
		identitiesDisabled.Inc()
	}
}

// IncPagesEmitted counts a pagination follow-up.
func IncPagesEmitted(strategy string) {
	if pagesEmitted != nil {
		pagesEmitted.WithLabelValues(strategy).Inc()
	}
}
