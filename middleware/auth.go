package middleware

import (
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common/config"
)

// clientToken extracts the inbound credential from the request. The OpenAI
// dialect sends a bearer token; the native dialect sends x-goog-api-key or a
// `key` query parameter.
func clientToken(c *gin.Context) string {
	if auth := c.Request.Header.Get("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := c.Request.Header.Get("x-goog-api-key"); key != "" {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(c.Query("key"))
}

func tokenAllowed(token string) bool {
	if token == "" {
		return false
	}
	if config.AuthToken != "" && token == config.AuthToken {
		return true
	}
	for _, allowed := range config.AllowedTokens {
		if token == allowed {
			return true
		}
	}
	return false
}

// RelayAuth guards the relay routes: the privileged token and every allowed
// token pass. When no tokens are configured at all the gateway runs open,
// which only makes sense behind another auth layer.
func RelayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.AuthToken == "" && len(config.AllowedTokens) == 0 {
			c.Next()
			return
		}
		if !tokenAllowed(clientToken(c)) {
			AbortWithError(c, http.StatusUnauthorized, errors.New("invalid or missing access token"))
			return
		}
		c.Next()
	}
}

// AdminAuth guards the management routes: only the privileged token passes.
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.AuthToken == "" {
			AbortWithError(c, http.StatusUnauthorized, errors.New("AUTH_TOKEN is not configured"))
			return
		}
		if clientToken(c) != config.AuthToken {
			AbortWithError(c, http.StatusUnauthorized, errors.New("admin access requires the auth token"))
			return
		}
		c.Next()
	}
}
