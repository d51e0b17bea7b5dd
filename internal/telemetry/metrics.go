package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("meshauth/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.Int(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if status >= 500 {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for authentication operations.
type AuthMetrics struct {
	AuthAttempts metric.Int64Counter // Authentication decisions by outcome
	AuthFailures metric.Int64Counter // Rejections by reason
	Renewals     metric.Int64Counter // Refresh rotations by result
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("meshauth/auth")

	authAttempts, err := meter.Int64Counter(
		"auth.attempt.count",
		metric.WithDescription("Total number of authentication decisions"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	authFailures, err := meter.Int64Counter(
		"auth.failure.count",
		metric.WithDescription("Total number of rejected requests"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	renewals, err := meter.Int64Counter(
		"auth.renewal.count",
		metric.WithDescription("Total number of refresh token rotations"),
		metric.WithUnit("{renewal}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		AuthAttempts: authAttempts,
		AuthFailures: authFailures,
		Renewals:     renewals,
	}, nil
}

// RecordAuth records one authentication decision. reason is empty on success.
// A nil receiver is a no-op.
func (a *AuthMetrics) RecordAuth(ctx context.Context, outcome, reason string) {
	if a == nil {
		return
	}
	a.AuthAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAuthOutcome, outcome)))
	if reason != "" {
		a.AuthFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrAuthOutcome, outcome),
			attribute.String(AttrAuthReason, reason),
		))
	}
}

// RecordRenewal records a refresh rotation attempt.
func (a *AuthMetrics) RecordRenewal(ctx context.Context, success bool) {
	if a == nil {
		return
	}
	a.Renewals.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrRenewalSuccess, success)))
}

// Common metric attribute keys
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"

	AttrAuthOutcome    = "auth.outcome" // anonymous, authenticated, internal_service, renewed, rejected
	AttrAuthReason     = "auth.reason"
	AttrRenewalSuccess = "auth.renewal.success"
)
