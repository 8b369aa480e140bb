package router

import (
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/middleware"
	relaycontroller "github.com/Laisky/gemini-balance/relay/controller"
)

// setRelayRouter registers both dialects. The OpenAI surface is served under
// /v1 and /hf/v1, the native surface under /v1beta and /gemini/v1beta, so
// clients built for either upstream work unchanged.
func setRelayRouter(router *gin.Engine) {
	guards := []gin.HandlerFunc{
		middleware.GlobalAPIRateLimit(),
		middleware.RelayAuth(),
	}

	for _, prefix := range []string{"/v1", "/hf/v1"} {
		group := router.Group(prefix)
		group.Use(guards...)
		{
			group.POST("/chat/completions", relaycontroller.RelayChatCompletions)
			group.POST("/embeddings", relaycontroller.RelayEmbeddings)
			group.POST("/images/generations", relaycontroller.RelayImageGenerations)
			group.GET("/models", relaycontroller.ListOpenAIModels)
		}
	}

	for _, prefix := range []string{"/v1beta", "/gemini/v1beta"} {
		group := router.Group(prefix)
		group.Use(guards...)
		{
			group.GET("/models", relaycontroller.ListGeminiModels)
			group.POST("/models/*modelAction", relaycontroller.RelayGeminiModelAction)
		}
	}
}
