package metrics

import (
	"runtime"
	"time"
)

// Metrics holds all metrics for the platform service.
type Metrics struct {
	// Event pipeline metrics
	EventsPublished *CounterVec
	EventsConsumed  *CounterVec

	// Verification metrics
	VerificationsTotal  *CounterVec
	VerificationLatency *Histogram

	// Report metrics
	ReportsAssembled *Counter

	// HTTP metrics
	HTTPRequests         *CounterVec
	HTTPDuration         *Histogram
	HTTPRequestsInFlight *Gauge

	// System metrics
	GoroutineCount *Gauge
	Uptime         *Counter

	startTime time.Time
}

// New creates a new metrics registry with all metrics initialized.
func New() *Metrics {
	return &Metrics{
		EventsPublished: NewCounterVec(
			"prism_events_published_total",
			"Total events published to the bus",
			[]string{"key"}),
		EventsConsumed: NewCounterVec(
			"prism_events_consumed_total",
			"Total events consumed from the bus",
			[]string{"key"}),

		VerificationsTotal: NewCounterVec(
			"prism_verifications_total",
			"Total connection verifications by outcome",
			[]string{"outcome"}),
		VerificationLatency: NewHistogram(
			"prism_verification_latency_ms",
			"Connection verification latency in milliseconds",
			[]float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}),

		ReportsAssembled: NewCounter(
			"prism_reports_assembled_total",
			"Total reports assembled", nil),

		HTTPRequests: NewCounterVec(
			"prism_http_requests_total",
			"Total HTTP requests",
			[]string{"method", "path", "status"}),
		HTTPDuration: NewHistogram(
			"prism_http_request_duration_ms",
			"HTTP request duration in milliseconds", nil),
		HTTPRequestsInFlight: NewGauge(
			"prism_http_requests_in_flight",
			"HTTP requests currently being served", nil),

		GoroutineCount: NewGauge(
			"prism_goroutines",
			"Number of goroutines", nil),
		Uptime: NewCounter(
			"prism_uptime_seconds",
			"Service uptime in seconds", nil),

		startTime: time.Now(),
	}
}

// RecordHTTP records metrics for one HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64, _ int64) {
	m.HTTPRequests.WithLabels(method, normalizePath(path), statusCode(status)).Inc()
	m.HTTPDuration.Observe(durationSeconds * 1000)
}

// RecordVerification records the outcome of a verification run.
func (m *Metrics) RecordVerification(success bool, latencyMs int64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.VerificationsTotal.WithLabels(outcome).Inc()
	m.VerificationLatency.Observe(float64(latencyMs))
}

// UpdateSystem refreshes system-level gauges. Called before exposition.
func (m *Metrics) UpdateSystem() {
	m.GoroutineCount.Set(float64(runtime.NumGoroutine()))
	m.Uptime.Reset()
	m.Uptime.Add(int64(time.Since(m.startTime).Seconds()))
}
