package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: how long requests, resolution and jobs take
// - Traffic: submission/claim/transition throughput
// - Errors: rate of failures
// - Saturation: active jobs and the notifier queue
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job lifecycle metrics (Latency, Traffic, Errors, Saturation)
	JobsSubmitted      metric.Int64Counter
	JobsResolved       metric.Int64Counter
	JobsClaimed        metric.Int64Counter
	JobsFinished       metric.Int64Counter
	JobsActive         metric.Int64UpDownCounter
	ResolutionDuration metric.Float64Histogram
	ResolutionFailed   metric.Int64Counter
	JobDuration        metric.Float64Histogram

	// Notifier metrics (Latency, Traffic, Errors, Saturation)
	NotifierDuration  metric.Float64Histogram
	NotifierDelivered metric.Int64Counter
	NotifierFailed    metric.Int64Counter
	NotifierDropped   metric.Int64Counter
	NotifierQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("jobplane")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Total number of jobs accepted for resolution"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsResolved, err = meter.Int64Counter(
		"jobs_resolved_total",
		metric.WithDescription("Total number of jobs bound to a cluster and command"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsClaimed, err = meter.Int64Counter(
		"jobs_claimed_total",
		metric.WithDescription("Total number of jobs claimed by agents"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsFinished, err = meter.Int64Counter(
		"jobs_finished_total",
		metric.WithDescription("Total number of jobs reaching a finished status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of jobs not yet finished (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ResolutionDuration, err = meter.Float64Histogram(
		"resolution_duration_seconds",
		metric.WithDescription("Resolution algorithm latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ResolutionFailed, err = meter.Int64Counter(
		"resolution_failed_total",
		metric.WithDescription("Total number of resolutions that found no resources"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Job execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 14400),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDuration, err = meter.Float64Histogram(
		"notifier_duration_seconds",
		metric.WithDescription("State-change webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDelivered, err = meter.Int64Counter(
		"notifier_delivered_total",
		metric.WithDescription("Total state-change events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierFailed, err = meter.Int64Counter(
		"notifier_failed_total",
		metric.WithDescription("Total state-change events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDropped, err = meter.Int64Counter(
		"notifier_dropped_total",
		metric.WithDescription("Total state-change events dropped (queue full or circuit open)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierQueueSize, err = meter.Int64Gauge(
		"notifier_queue_size",
		metric.WithDescription("Current number of events in the notifier queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records a job accepted for resolution.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, user string) {
	attrs := metric.WithAttributes(userAttr(user))
	m.JobsSubmitted.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1)
}

// RecordJobResolved records a successful resolution with its latency.
func (m *Metrics) RecordJobResolved(ctx context.Context, clusterID string, durationSeconds float64) {
	m.JobsResolved.Add(ctx, 1, metric.WithAttributes(clusterAttr(clusterID)))
	m.ResolutionDuration.Record(ctx, durationSeconds)
}

// RecordResolutionFailed records a resolution that found no resources.
func (m *Metrics) RecordResolutionFailed(ctx context.Context, durationSeconds float64) {
	m.ResolutionFailed.Add(ctx, 1)
	m.ResolutionDuration.Record(ctx, durationSeconds)
}

// RecordJobClaimed records a successful claim.
func (m *Metrics) RecordJobClaimed(ctx context.Context) {
	m.JobsClaimed.Add(ctx, 1)
}

// RecordJobFinished records a job reaching a finished status.
func (m *Metrics) RecordJobFinished(ctx context.Context, status string, durationSeconds float64) {
	m.JobsFinished.Add(ctx, 1, metric.WithAttributes(finalStatusAttr(status)))
	m.JobsActive.Add(ctx, -1)
	if durationSeconds > 0 {
		m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(finalStatusAttr(status)))
	}
}

// RecordNotifierDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordNotifierDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifierDelivered.Add(ctx, 1)
	m.NotifierDuration.Record(ctx, durationSeconds)
}

// RecordNotifierFailed records a failed event delivery.
func (m *Metrics) RecordNotifierFailed(ctx context.Context) {
	m.NotifierFailed.Add(ctx, 1)
}

// RecordNotifierDropped records a dropped event.
func (m *Metrics) RecordNotifierDropped(ctx context.Context) {
	m.NotifierDropped.Add(ctx, 1)
}

// RecordNotifierQueueSize records the current queue size.
func (m *Metrics) RecordNotifierQueueSize(ctx context.Context, size int64) {
	m.NotifierQueueSize.Record(ctx, size)
}
