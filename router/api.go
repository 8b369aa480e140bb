package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/controller"
	"github.com/Laisky/gemini-balance/middleware"
)

// setAPIRouter registers the management surface, guarded by the privileged
// token.
func setAPIRouter(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	api.Use(middleware.GlobalAPIRateLimit(), middleware.AdminAuth())
	{
		api.GET("/keys", controller.GetKeyStatus)
		api.POST("/keys/verify", controller.VerifyKeys)
		api.GET("/logs/requests", controller.GetRequestLogs)
		api.GET("/logs/errors", controller.GetErrorLogs)
	}
}
