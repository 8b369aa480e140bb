package middleware

import (
	"fmt"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common/helper"
)

// AbortWithError aborts the request with a uniform error envelope. Client
// errors log as warnings, server errors as errors.
func AbortWithError(c *gin.Context, statusCode int, err error) {
	lg := gmw.GetLogger(c)
	if statusCode >= 400 && statusCode < 500 {
		lg.Warn("request aborted",
			zap.Int("status_code", statusCode),
			zap.Error(err))
	} else {
		lg.Error("request aborted",
			zap.Int("status_code", statusCode),
			zap.Error(err))
	}

	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"message": MessageWithRequestId(err.Error(), c.GetString(helper.RequestIdKey)),
			"type":    "gemini_balance_error",
		},
	})
	c.Abort()
}

// MessageWithRequestId appends the request id to an error message so clients
// can quote it when reporting problems.
func MessageWithRequestId(message, requestId string) string {
	if requestId == "" {
		return message
	}
	return fmt.Sprintf("%s (request id: %s)", message, requestId)
}
