// Package middleware provides metrics for HTTP middleware components.
package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRateLimitRequests    = "rate_limit_requests_total"
	MetricRateLimitBlocked     = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors = "rate_limit_redis_errors_total"
	MetricHTTPRequestDuration  = "http_request_duration_seconds"
	MetricHTTPRequestsTotal    = "http_requests_total"
	MetricPinsCreated          = "pins_created_total"
	MetricPinsExpired          = "pins_expired_total"
	MetricPinVotes             = "pin_votes_total"
	MetricPinReports           = "pin_reports_total"
	MetricPinPassBys           = "pin_pass_bys_total"
	MetricDiscoveryResults     = "discovery_results_returned"
)

// Metrics contains Prometheus metrics for the API.
// All operations are thread-safe.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	pinsCreated          prometheus.Counter
	pinsExpired          prometheus.Counter
	pinVotes             *prometheus.CounterVec
	pinReports           prometheus.Counter
	pinPassBys           prometheus.Counter
	discoveryResults     prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitRequests,
				Help: "Total number of rate limit checks by endpoint",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitBlocked,
				Help: "Total number of rate limit violations (blocked requests) by endpoint",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitRedisErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRateLimitRedisErrors,
				Help: "Total number of Redis errors during rate limiting (fail-open events)",
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		pinsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPinsCreated,
				Help: "Total number of pins created",
			},
		),
		pinsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPinsExpired,
				Help: "Total number of pins retired or removed by cleanup",
			},
		),
		pinVotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPinVotes,
				Help: "Total number of votes recorded by kind",
			},
			[]string{"kind"},
		),
		pinReports: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPinReports,
				Help: "Total number of pin reports filed",
			},
		),
		pinPassBys: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPinPassBys,
				Help: "Total number of pass-by events recorded",
			},
		),
		discoveryResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricDiscoveryResults,
				Help:    "Number of pins returned per discovery request",
				Buckets: []float64{0, 1, 5, 10, 25, 50},
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests increments the rate limit requests counter.
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitBlocked increments the rate limit blocked counter.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors increments the Redis error counter.
// This tracks fail-open events when Redis is unavailable.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// ObserveHTTPRequest records HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64) {
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": status,
	}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
}

// IncPinsCreated increments the created-pin counter.
func (m *Metrics) IncPinsCreated() {
	m.pinsCreated.Inc()
}

// AddPinsExpired adds to the expired-pin counter.
func (m *Metrics) AddPinsExpired(n int) {
	m.pinsExpired.Add(float64(n))
}

// IncPinVotes increments the vote counter for the given kind.
func (m *Metrics) IncPinVotes(kind string) {
	m.pinVotes.WithLabelValues(kind).Inc()
}

// IncPinReports increments the report counter.
func (m *Metrics) IncPinReports() {
	m.pinReports.Inc()
}

// IncPinPassBys increments the pass-by counter.
func (m *Metrics) IncPinPassBys() {
	m.pinPassBys.Inc()
}

// ObserveDiscoveryResults records how many pins a discovery request returned.
func (m *Metrics) ObserveDiscoveryResults(n int) {
	m.discoveryResults.Observe(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.pinsCreated,
		m.pinsExpired,
		m.pinVotes,
		m.pinReports,
		m.pinPassBys,
		m.discoveryResults,
	}
}
