package restengine

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector provides Prometheus metrics for the engine's request
// lifecycle and reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterWait   *prometheus.HistogramVec
	rateLimiterTokens *prometheus.GaugeVec

	sessionPoolSize       *prometheus.GaugeVec
	sessionEvictionsTotal *prometheus.CounterVec

	asyncPollsTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, letting tests use isolated registries.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restengine_requests_total",
				Help: "Total number of logical HTTP calls made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restengine_request_duration_seconds",
				Help:    "Duration of logical HTTP calls in seconds, retries and polls included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restengine_requests_in_flight",
				Help: "Number of logical HTTP calls currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restengine_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restengine_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterWait: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restengine_rate_limiter_wait_seconds",
				Help:    "Time spent waiting for a rate limiter token",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"name"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restengine_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
			[]string{"name"},
		),
		sessionPoolSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restengine_session_pool_size",
				Help: "Number of sessions currently cached",
			},
			[]string{"name"},
		),
		sessionEvictionsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restengine_session_evictions_total",
				Help: "Total number of LRU session evictions",
			},
			[]string{"name"},
		),
		asyncPollsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restengine_async_polls_total",
				Help: "Total number of async operation status polls",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restengine_errors_total",
				Help: "Total number of classified errors surfaced to callers",
			},
			[]string{"type", "method", "endpoint"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRequest records a completed logical call.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, status, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, status, endpoint).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState records the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterWait records time spent blocked on the token bucket.
func (mc *MetricsCollector) RecordRateLimiterWait(name string, wait time.Duration) {
	mc.rateLimiterWait.WithLabelValues(name).Observe(wait.Seconds())
}

// RecordRateLimiterTokens records the available token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens float64) {
	mc.rateLimiterTokens.WithLabelValues(name).Set(tokens)
}

// RecordSessionPoolSize records the session pool size gauge.
func (mc *MetricsCollector) RecordSessionPoolSize(name string, size int) {
	mc.sessionPoolSize.WithLabelValues(name).Set(float64(size))
}

// RecordSessionEviction records one LRU eviction.
func (mc *MetricsCollector) RecordSessionEviction(name string) {
	mc.sessionEvictionsTotal.WithLabelValues(name).Inc()
}

// RecordAsyncPoll records one async status poll.
func (mc *MetricsCollector) RecordAsyncPoll(method, endpoint string) {
	mc.asyncPollsTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordError records a classified error surfaced to a caller.
func (mc *MetricsCollector) RecordError(errorType ErrorType, method, endpoint string) {
	mc.errorsTotal.WithLabelValues(string(errorType), method, endpoint).Inc()
}

// Handler returns an HTTP handler exposing the metrics when the collector
// was built on a gatherer registry, or the default gatherer otherwise.
func (mc *MetricsCollector) Handler() http.Handler {
	if gatherer, ok := mc.registry.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
