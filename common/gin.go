package common

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common/ctxkey"
)

// GetRequestBody reads the request body once and caches it on the context so
// the relay can parse it, estimate tokens from it, and log it without
// re-reading.
func GetRequestBody(c *gin.Context) ([]byte, error) {
	if cached, _ := c.Get(ctxkey.KeyRequestBody); cached != nil {
		return cached.([]byte), nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	_ = c.Request.Body.Close()
	c.Set(ctxkey.KeyRequestBody, body)
	return body, nil
}

// UnmarshalBodyReusable decodes the JSON request body into v and leaves the
// body readable for downstream consumers. Both relay dialects are JSON-only,
// so the Content-Type header is not consulted.
func UnmarshalBodyReusable(c *gin.Context, v any) error {
	body, err := GetRequestBody(c)
	if err != nil {
		return err
	}

	logClientPayload(c, body)

	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "unmarshal request body")
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return nil
}

// logClientPayload emits one sanitized DEBUG preview of the inbound body per
// request.
func logClientPayload(c *gin.Context, body []byte) {
	if logged, _ := c.Get(ctxkey.ClientRequestPayloadLogged); logged == true {
		return
	}
	c.Set(ctxkey.ClientRequestPayloadLogged, true)

	preview, truncated := SanitizePayloadForLogging(body, DefaultLogBodyLimit)
	gmw.GetLogger(c).Debug("client request received",
		zap.String("method", c.Request.Method),
		zap.String("url", c.Request.URL.String()),
		zap.Int("body_bytes", len(body)),
		zap.Bool("body_truncated", truncated),
		zap.ByteString("body_preview", preview))
}

// SetEventStreamHeaders prepares the response for server-sent events and
// disables proxy buffering so chunks reach the client as they are written.
func SetEventStreamHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Accel-Buffering", "no")
}
