package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/controller"
)

// SetRouter wires every route group onto the engine. gzip is applied only on
// the management surface; compressing relay routes would break SSE streaming.
func SetRouter(router *gin.Engine) {
	router.Use(cors.Default())
	if config.OpenTelemetryEnabled {
		router.Use(otelgin.Middleware(config.OpenTelemetryServiceName))
	}

	router.GET("/health", controller.Health)
	if config.EnablePrometheusMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	setRelayRouter(router)
	setAPIRouter(router)
}
