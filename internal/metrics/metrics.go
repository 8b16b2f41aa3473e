// Package metrics exposes the Prometheus collectors for medplain.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "medplain",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medplain",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medplain",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medplain",
			Subsystem: "documents",
			Name:      "generations_total",
			Help:      "Total number of document generation attempts.",
		},
		[]string{"status"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medplain",
			Subsystem: "documents",
			Name:      "generation_duration_seconds",
			Help:      "Duration of document generation calls including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"status"},
	)

	validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medplain",
			Subsystem: "documents",
			Name:      "validation_failures_total",
			Help:      "Total number of model output validation failures.",
		},
		[]string{"reason"},
	)

	iamTokenRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "medplain",
			Subsystem: "watsonx",
			Name:      "iam_token_refreshes_total",
			Help:      "Total number of IAM bearer token refreshes.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		generations,
		generationDuration,
		validationFailures,
		iamTokenRefreshes,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler serves the metrics registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight bumps the in-flight request gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight drops the in-flight request gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records a document generation attempt.
func RecordGeneration(status string, duration time.Duration) {
	generations.WithLabelValues(status).Inc()
	generationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordValidationFailure counts a model output validation failure.
func RecordValidationFailure(reason string) {
	validationFailures.WithLabelValues(reason).Inc()
}

// RecordIAMTokenRefresh counts an IAM token refresh.
func RecordIAMTokenRefresh() { iamTokenRefreshes.Inc() }
