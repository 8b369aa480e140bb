package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common/helper"
	"github.com/Laisky/gemini-balance/common/random"
)

// RequestId attaches a request identifier to the context and echoes it in the
// response. An inbound X-Request-Id is preserved so callers can correlate.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get(helper.RequestIdKey)
		if id == "" {
			id = random.GetUUID()
		}
		c.Set(helper.RequestIdKey, id)
		c.Request.Header.Set(helper.RequestIdKey, id)
		c.Header(helper.RequestIdKey, id)
		c.Next()
	}
}
