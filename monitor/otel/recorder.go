package otel

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelRecorder implements the MetricsRecorder interface using OpenTelemetry.
type OtelRecorder struct {
	meter metric.Meter

	relayRequestDuration metric.Float64Histogram
	relayRequestsTotal   metric.Int64Counter
	relayTokensUsed      metric.Int64Counter

	httpRequestDuration metric.Float64Histogram
	httpRequestsTotal   metric.Int64Counter
	httpActiveRequests  metric.Float64UpDownCounter

	keyFailuresTotal metric.Int64Counter
	keyPoolValid     metric.Int64Gauge
	keyPoolInvalid   metric.Int64Gauge

	rateLimitHits metric.Int64Counter
	errorsTotal   metric.Int64Counter
}

// NewOtelRecorder creates a new OtelRecorder.
func NewOtelRecorder() (*OtelRecorder, error) {
	meter := otel.Meter("gemini-balance")
	r := &OtelRecorder{meter: meter}

	var err error
	if r.relayRequestDuration, err = meter.Float64Histogram("gemini_balance_relay_request_duration_seconds", metric.WithDescription("Duration of relay requests in seconds")); err != nil {
		return nil, err
	}
	if r.relayRequestsTotal, err = meter.Int64Counter("gemini_balance_relay_requests_total", metric.WithDescription("Total number of relay requests")); err != nil {
		return nil, err
	}
	if r.relayTokensUsed, err = meter.Int64Counter("gemini_balance_relay_tokens_total", metric.WithDescription("Total number of tokens used in relay requests")); err != nil {
		return nil, err
	}

	if r.httpRequestDuration, err = meter.Float64Histogram("gemini_balance_http_request_duration_seconds", metric.WithDescription("Duration of HTTP requests in seconds")); err != nil {
		return nil, err
	}
	if r.httpRequestsTotal, err = meter.Int64Counter("gemini_balance_http_requests_total", metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if r.httpActiveRequests, err = meter.Float64UpDownCounter("gemini_balance_http_active_requests", metric.WithDescription("Number of active HTTP requests")); err != nil {
		return nil, err
	}

	if r.keyFailuresTotal, err = meter.Int64Counter("gemini_balance_key_failures_total", metric.WithDescription("Total number of upstream credential failures")); err != nil {
		return nil, err
	}
	if r.keyPoolValid, err = meter.Int64Gauge("gemini_balance_key_pool_valid", metric.WithDescription("Number of valid credentials in the pool")); err != nil {
		return nil, err
	}
	if r.keyPoolInvalid, err = meter.Int64Gauge("gemini_balance_key_pool_invalid", metric.WithDescription("Number of invalidated credentials in the pool")); err != nil {
		return nil, err
	}

	if r.rateLimitHits, err = meter.Int64Counter("gemini_balance_rate_limit_hits_total", metric.WithDescription("Total number of rate limit hits")); err != nil {
		return nil, err
	}
	if r.errorsTotal, err = meter.Int64Counter("gemini_balance_errors_total", metric.WithDescription("Total number of errors")); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordHTTPRequest records HTTP request metrics.
func (r *OtelRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
		attribute.String("status_code", statusCode),
	}
	r.httpRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordHTTPActiveRequest records active HTTP request metrics.
func (r *OtelRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
	}
	r.httpActiveRequests.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// RecordRelayRequest records one upstream attempt outcome.
func (r *OtelRecorder) RecordRelayRequest(startTime time.Time, model, key, dialect string, streaming, success bool, promptTokens, completionTokens int) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("key", key),
		attribute.String("dialect", dialect),
		attribute.String("streaming", strconv.FormatBool(streaming)),
		attribute.String("success", strconv.FormatBool(success)),
	}

	r.relayRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.relayRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if promptTokens > 0 {
		promptAttrs := append(attrs, attribute.String("token_type", "prompt"))
		r.relayTokensUsed.Add(ctx, int64(promptTokens), metric.WithAttributes(promptAttrs...))
	}
	if completionTokens > 0 {
		completionAttrs := append(attrs, attribute.String("token_type", "completion"))
		r.relayTokensUsed.Add(ctx, int64(completionTokens), metric.WithAttributes(completionAttrs...))
	}
}

// RecordRateLimitHit records rate limit hit metrics.
func (r *OtelRecorder) RecordRateLimitHit(limitType, identifier string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("limit_type", limitType),
		attribute.String("identifier", identifier),
	}
	r.rateLimitHits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordKeyFailure records one upstream credential failure.
func (r *OtelRecorder) RecordKeyFailure(key string) {
	ctx := context.Background()
	r.keyFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// UpdateKeyPoolState records the pool's valid/invalid split.
func (r *OtelRecorder) UpdateKeyPoolState(valid, invalid int) {
	ctx := context.Background()
	r.keyPoolValid.Record(ctx, int64(valid))
	r.keyPoolInvalid.Record(ctx, int64(invalid))
}

// RecordError records error metrics.
func (r *OtelRecorder) RecordError(errorType, component string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("error_type", errorType),
		attribute.String("component", component),
	}
	r.errorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// InitSystemMetrics initializes system metrics.
func (r *OtelRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
}
