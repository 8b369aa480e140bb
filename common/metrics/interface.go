package metrics

import (
	"time"
)

// MetricsRecorder defines the interface for recording metrics
type MetricsRecorder interface {
	// HTTP metrics
	RecordHTTPRequest(startTime time.Time, path, method, statusCode string)
	RecordHTTPActiveRequest(path, method string, delta float64)

	// Relay metrics: one observation per upstream attempt outcome.
	RecordRelayRequest(startTime time.Time, model, key, dialect string, streaming, success bool, promptTokens, completionTokens int)

	// Rate limit metrics
	RecordRateLimitHit(limitType, identifier string)

	// Key pool metrics
	RecordKeyFailure(key string)
	UpdateKeyPoolState(valid, invalid int)

	// Error metrics
	RecordError(errorType, component string)

	// System metrics
	InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time)
}

// GlobalRecorder holds the active metrics recorder implementation.
var GlobalRecorder MetricsRecorder

// NoOpRecorder is a no-operation implementation for when metrics are disabled
type NoOpRecorder struct{}

// RecordHTTPRequest implements MetricsRecorder.RecordHTTPRequest without collecting any data.
func (n *NoOpRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {}

// RecordHTTPActiveRequest implements MetricsRecorder.RecordHTTPActiveRequest without collecting any data.
func (n *NoOpRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {}

// RecordRelayRequest implements MetricsRecorder.RecordRelayRequest without collecting any data.
func (n *NoOpRecorder) RecordRelayRequest(startTime time.Time, model, key, dialect string, streaming, success bool, promptTokens, completionTokens int) {
}

// RecordRateLimitHit implements MetricsRecorder.RecordRateLimitHit without collecting any data.
func (n *NoOpRecorder) RecordRateLimitHit(limitType, identifier string) {}

// RecordKeyFailure implements MetricsRecorder.RecordKeyFailure without collecting any data.
func (n *NoOpRecorder) RecordKeyFailure(key string) {}

// UpdateKeyPoolState implements MetricsRecorder.UpdateKeyPoolState without collecting any data.
func (n *NoOpRecorder) UpdateKeyPoolState(valid, invalid int) {}

// RecordError implements MetricsRecorder.RecordError without collecting any data.
func (n *NoOpRecorder) RecordError(errorType, component string) {}

// InitSystemMetrics implements MetricsRecorder.InitSystemMetrics without collecting any data.
func (n *NoOpRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {}

// Initialize with no-op recorder by default
func init() {
	GlobalRecorder = &NoOpRecorder{}
}

// MultiRecorder wraps multiple MetricsRecorder implementations
type MultiRecorder struct {
	Recorders []MetricsRecorder
}

// RecordHTTPRequest implements MetricsRecorder.RecordHTTPRequest
func (m *MultiRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	for _, r := range m.Recorders {
		r.RecordHTTPRequest(startTime, path, method, statusCode)
	}
}

// RecordHTTPActiveRequest implements MetricsRecorder.RecordHTTPActiveRequest
func (m *MultiRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	for _, r := range m.Recorders {
		r.RecordHTTPActiveRequest(path, method, delta)
	}
}

// RecordRelayRequest implements MetricsRecorder.RecordRelayRequest
func (m *MultiRecorder) RecordRelayRequest(startTime time.Time, model, key, dialect string, streaming, success bool, promptTokens, completionTokens int) {
	for _, r := range m.Recorders {
		r.RecordRelayRequest(startTime, model, key, dialect, streaming, success, promptTokens, completionTokens)
	}
}

// RecordRateLimitHit implements MetricsRecorder.RecordRateLimitHit
func (m *MultiRecorder) RecordRateLimitHit(limitType, identifier string) {
	for _, r := range m.Recorders {
		r.RecordRateLimitHit(limitType, identifier)
	}
}

// RecordKeyFailure implements MetricsRecorder.RecordKeyFailure
func (m *MultiRecorder) RecordKeyFailure(key string) {
	for _, r := range m.Recorders {
		r.RecordKeyFailure(key)
	}
}

// UpdateKeyPoolState implements MetricsRecorder.UpdateKeyPoolState
func (m *MultiRecorder) UpdateKeyPoolState(valid, invalid int) {
	for _, r := range m.Recorders {
		r.UpdateKeyPoolState(valid, invalid)
	}
}

// RecordError implements MetricsRecorder.RecordError
func (m *MultiRecorder) RecordError(errorType, component string) {
	for _, r := range m.Recorders {
		r.RecordError(errorType, component)
	}
}

// InitSystemMetrics implements MetricsRecorder.InitSystemMetrics
func (m *MultiRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
	for _, r := range m.Recorders {
		r.InitSystemMetrics(version, buildTime, goVersion, startTime)
	}
}
