package monitor

import (
	"time"

	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/metrics"
	"github.com/Laisky/gemini-balance/monitor/otel"
	"github.com/Laisky/gemini-balance/monitor/prometheus"
)

// InitMonitoring selects the active metrics recorders from configuration.
func InitMonitoring(version, buildTime, goVersion string, startTime time.Time) error {
	var recorders []metrics.MetricsRecorder

	if config.EnablePrometheusMetrics {
		recorders = append(recorders, &prometheus.PrometheusRecorder{})
	}

	if config.OpenTelemetryEnabled {
		otelRecorder, err := otel.NewOtelRecorder()
		if err != nil {
			return err
		}
		recorders = append(recorders, otelRecorder)
	}

	switch len(recorders) {
	case 0:
		metrics.GlobalRecorder = &metrics.NoOpRecorder{}
		return nil
	case 1:
		metrics.GlobalRecorder = recorders[0]
	default:
		metrics.GlobalRecorder = &metrics.MultiRecorder{Recorders: recorders}
	}

	metrics.GlobalRecorder.InitSystemMetrics(version, buildTime, goVersion, startTime)
	return nil
}
