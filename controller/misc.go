package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common"
	"github.com/Laisky/gemini-balance/model"
	relaycontroller "github.com/Laisky/gemini-balance/relay/controller"
)

// Health serves GET /health. Degraded means the pool has no usable credential
// left, which every relay request would currently fail on.
func Health(c *gin.Context) {
	validKeys := relaycontroller.KeyPool.ValidCount()
	status := "ok"
	code := http.StatusOK
	if validKeys == 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"version":    common.Version,
		"total_keys": relaycontroller.KeyPool.Size(),
		"valid_keys": validKeys,
	})
}

// GetErrorLogs serves GET /api/logs/errors.
func GetErrorLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := model.QueryErrorLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": err.Error(), "type": "gemini_balance_error"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GetRequestLogs serves GET /api/logs/requests.
func GetRequestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := model.QueryRequestLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": err.Error(), "type": "gemini_balance_error"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
