package controller

import (
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common"
	"github.com/Laisky/gemini-balance/common/metrics"
	"github.com/Laisky/gemini-balance/model"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// Dialect names used in logs and metrics.
const (
	dialectGemini = "gemini"
	dialectOpenAI = "openai"
)

// googleStatusFor maps an HTTP status to the upstream status token used in
// native error bodies.
func googleStatusFor(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// WriteErrorNative renders a native-dialect error envelope. Once a streamed
// response has started the status line is gone; nothing is appended to the
// truncated stream.
func WriteErrorNative(c *gin.Context, errResp *relaymodel.ErrorWithStatusCode) {
	if c.Writer.Written() {
		return
	}
	if errResp.RetryAfter > 0 {
		c.Header("Retry-After", retryAfterHeader(errResp.RetryAfter))
	}
	c.JSON(errResp.StatusCode, gin.H{
		"error": gin.H{
			"code":    errResp.StatusCode,
			"message": errResp.Error.Message,
			"status":  googleStatusFor(errResp.StatusCode),
		},
	})
}

// WriteErrorOpenAI renders an OpenAI-dialect error envelope. Skipped when the
// response already started streaming.
func WriteErrorOpenAI(c *gin.Context, errResp *relaymodel.ErrorWithStatusCode) {
	if c.Writer.Written() {
		return
	}
	if errResp.RetryAfter > 0 {
		c.Header("Retry-After", retryAfterHeader(errResp.RetryAfter))
	}
	errType := errResp.Error.Type
	if errType == "" {
		errType = "api_error"
	}
	c.JSON(errResp.StatusCode, gin.H{
		"error": gin.H{
			"message": errResp.Error.Message,
			"type":    errType,
			"code":    errResp.Error.Code,
		},
	})
}

// recordFailure emits the request log, error log, metrics and a structured
// log line for a failed relay request. key is the redacted credential of the
// last attempt; empty when no credential was selected.
func recordFailure(c *gin.Context, dialect, requestModel, key string, streaming bool, startTime time.Time, errResp *relaymodel.ErrorWithStatusCode) {
	lg := gmw.GetLogger(c)
	lg.Warn("relay request failed",
		zap.String("dialect", dialect),
		zap.String("model", requestModel),
		zap.String("key", key),
		zap.Int("status", errResp.StatusCode),
		zap.String("message", errResp.Error.Message))

	metrics.GlobalRecorder.RecordError("relay_failure", dialect)

	model.RecordRequestLog(c.Request.Context(), &model.RequestLog{
		RequestId:  c.GetHeader("X-Request-Id"),
		Model:      requestModel,
		Key:        key,
		Dialect:    dialect,
		Streaming:  streaming,
		Success:    false,
		StatusCode: errResp.StatusCode,
		LatencyMs:  time.Since(startTime).Milliseconds(),
	})

	body, _ := common.GetRequestBody(c)
	code, _ := errResp.Error.Code.(string)
	model.RecordErrorLog(c.Request.Context(), &model.ErrorLog{
		RequestId:    c.GetHeader("X-Request-Id"),
		Model:        requestModel,
		Key:          key,
		Dialect:      dialect,
		StatusCode:   errResp.StatusCode,
		ErrorCode:    code,
		ErrorMessage: errResp.Error.Message,
		RequestBody:  string(body),
	})
}
