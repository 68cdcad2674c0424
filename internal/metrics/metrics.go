package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "surplus_market"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	revaluationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revaluation",
			Name:      "runs_total",
			Help:      "Price revaluation runs by outcome.",
		},
		[]string{"outcome"},
	)

	listingsExamined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revaluation",
			Name:      "listings_examined_total",
			Help:      "Listings examined by revaluation runs.",
		},
	)

	listingsRepriced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revaluation",
			Name:      "listings_repriced_total",
			Help:      "Listings whose price changed during revaluation.",
		},
	)

	listingUpdateErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revaluation",
			Name:      "listing_update_errors_total",
			Help:      "Per-listing price writes that failed.",
		},
	)

	revaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "revaluation",
			Name:      "run_duration_seconds",
			Help:      "Duration of revaluation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ordersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Orders created.",
		},
	)

	orderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status / payment transitions by kind and result.",
		},
		[]string{"kind", "to", "result"},
	)
)

func init() {
	Registry.MustRegister(
		revaluationRuns,
		listingsExamined,
		listingsRepriced,
		listingUpdateErrors,
		revaluationDuration,
		ordersCreated,
		orderTransitions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRevaluation 记录一次重估运行。outcome: ok / skipped / failed。
func RecordRevaluation(outcome string, examined, updated, failed int, seconds float64) {
	revaluationRuns.WithLabelValues(outcome).Inc()
	listingsExamined.Add(float64(examined))
	listingsRepriced.Add(float64(updated))
	listingUpdateErrors.Add(float64(failed))
	if outcome != "skipped" {
		revaluationDuration.Observe(seconds)
	}
}

func RecordOrderCreated() { ordersCreated.Inc() }

// RecordTransition kind: status / payment；result: ok 或错误类别。
func RecordTransition(kind, to, result string) {
	orderTransitions.WithLabelValues(kind, to, result).Inc()
}
