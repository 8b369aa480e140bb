package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the MetricsRecorder interface using the
// default prometheus registry, exposed on /metrics.
type PrometheusRecorder struct{}

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemini_balance_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status_code"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_balance_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"path", "method", "status_code"})

	httpActiveRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gemini_balance_http_active_requests",
		Help: "Number of active HTTP requests",
	}, []string{"path", "method"})

	relayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemini_balance_relay_request_duration_seconds",
		Help:    "Duration of relay requests in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"model", "dialect", "streaming", "success"})

	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_balance_relay_requests_total",
		Help: "Total number of relay requests",
	}, []string{"model", "key", "dialect", "streaming", "success"})

	relayTokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_balance_relay_tokens_total",
		Help: "Total number of tokens used in relay requests",
	}, []string{"model", "dialect", "token_type"})

	rateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_balance_rate_limit_hits_total",
		Help: "Total number of rate limit hits",
	}, []string{"limit_type", "identifier"})

	keyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_balance_key_failures_total",
		Help: "Total number of upstream credential failures",
	}, []string{"key"})

	keyPoolValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemini_balance_key_pool_valid",
		Help: "Number of valid credentials in the pool",
	})

	keyPoolInvalid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemini_balance_key_pool_invalid",
		Help: "Number of invalidated credentials in the pool",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemini_balance_errors_total",
		Help: "Total number of errors",
	}, []string{"error_type", "component"})

	systemInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gemini_balance_system_info",
		Help: "Build and runtime information",
	}, []string{"version", "build_time", "go_version"})

	systemStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemini_balance_start_time_seconds",
		Help: "Unix timestamp of process start",
	})
)

// RecordHTTPRequest records HTTP request metrics.
func (p *PrometheusRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	httpRequestDuration.WithLabelValues(path, method, statusCode).Observe(time.Since(startTime).Seconds())
	httpRequestsTotal.WithLabelValues(path, method, statusCode).Inc()
}

// RecordHTTPActiveRequest records active HTTP request metrics.
func (p *PrometheusRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	httpActiveRequests.WithLabelValues(path, method).Add(delta)
}

// RecordRelayRequest records one upstream attempt outcome.
func (p *PrometheusRecorder) RecordRelayRequest(startTime time.Time, model, key, dialect string, streaming, success bool, promptTokens, completionTokens int) {
	streamingStr := strconv.FormatBool(streaming)
	successStr := strconv.FormatBool(success)

	relayRequestDuration.WithLabelValues(model, dialect, streamingStr, successStr).
		Observe(time.Since(startTime).Seconds())
	relayRequestsTotal.WithLabelValues(model, key, dialect, streamingStr, successStr).Inc()

	if promptTokens > 0 {
		relayTokensUsed.WithLabelValues(model, dialect, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		relayTokensUsed.WithLabelValues(model, dialect, "completion").Add(float64(completionTokens))
	}
}

// RecordRateLimitHit records rate limit hit metrics.
func (p *PrometheusRecorder) RecordRateLimitHit(limitType, identifier string) {
	rateLimitHits.WithLabelValues(limitType, identifier).Inc()
}

// RecordKeyFailure records one upstream credential failure.
func (p *PrometheusRecorder) RecordKeyFailure(key string) {
	keyFailuresTotal.WithLabelValues(key).Inc()
}

// UpdateKeyPoolState records the pool's valid/invalid split.
func (p *PrometheusRecorder) UpdateKeyPoolState(valid, invalid int) {
	keyPoolValid.Set(float64(valid))
	keyPoolInvalid.Set(float64(invalid))
}

// RecordError records error metrics.
func (p *PrometheusRecorder) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// InitSystemMetrics publishes build information once at startup.
func (p *PrometheusRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
	systemInfo.WithLabelValues(version, buildTime, goVersion).Set(1)
	systemStartTime.Set(float64(startTime.Unix()))
}
