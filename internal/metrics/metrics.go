// Package metrics exposes the Prometheus instruments of the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vatease"

// Metrics implements the recorder interfaces of the domain services.
type Metrics struct {
	ordersAudited        *prometheus.CounterVec
	alertsRaised         *prometheus.CounterVec
	viesChecks           *prometheus.CounterVec
	viesAttempts         prometheus.Histogram
	viesDuration         prometheus.Histogram
	thresholdTransitions *prometheus.CounterVec
	reportsGenerated     *prometheus.CounterVec
	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the metrics registered on the default Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultMetrics
}

// New creates and registers the instruments on reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		ordersAudited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_audited_total",
			Help:      "Audited orders by discrepancy, none for clean orders.",
		}, []string{"discrepancy"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts opened by type and severity.",
		}, []string{"type", "severity"}),
		viesChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vies_checks_total",
			Help:      "VIES validations by final status.",
		}, []string{"status"}),
		viesAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vies_check_attempts",
			Help:      "VIES calls made per validation.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		viesDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vies_check_duration_seconds",
			Help:      "Wall time of a validation including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		thresholdTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_transitions_total",
			Help:      "OSS threshold status transitions by new status.",
		}, []string{"status"}),
		reportsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_generated_total",
			Help:      "OSS reports generated.",
		}, []string{"status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.ordersAudited,
		m.alertsRaised,
		m.viesChecks,
		m.viesAttempts,
		m.viesDuration,
		m.thresholdTransitions,
		m.reportsGenerated,
		m.jobRuns,
		m.jobDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderAudited(discrepancy string) {
	if discrepancy == "" {
		discrepancy = "none"
	}
	m.ordersAudited.WithLabelValues(discrepancy).Inc()
}

func (m *Metrics) AlertRaised(alertType, severity string) {
	m.alertsRaised.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) VIESCheck(status string, attempts int, took time.Duration) {
	m.viesChecks.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.viesAttempts.Observe(float64(attempts))
	}
	m.viesDuration.Observe(took.Seconds())
}

func (m *Metrics) ThresholdTransition(status string) {
	m.thresholdTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ReportGenerated(status string) {
	m.reportsGenerated.WithLabelValues(status).Inc()
}

// JobRun records one background job execution.
func (m *Metrics) JobRun(job string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// HTTPRequest records a served request. route is the matched mux pattern.
func (m *Metrics) HTTPRequest(method, route string, code int, took time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
