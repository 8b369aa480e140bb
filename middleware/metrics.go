package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common/graceful"
	"github.com/Laisky/gemini-balance/common/metrics"
)

// Metrics records HTTP request metrics and tracks in-flight requests for
// graceful draining. Route templates are used as the path label so model
// names do not explode cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		done := graceful.BeginRequest()
		defer done()

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		metrics.GlobalRecorder.RecordHTTPActiveRequest(path, method, 1)
		defer metrics.GlobalRecorder.RecordHTTPActiveRequest(path, method, -1)

		c.Next()

		metrics.GlobalRecorder.RecordHTTPRequest(start, path, method,
			strconv.Itoa(c.Writer.Status()))
	}
}
