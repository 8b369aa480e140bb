package gemini

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common"
	"github.com/Laisky/gemini-balance/common/helper"
	"github.com/Laisky/gemini-balance/common/render"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// StreamHandler relays a native streamGenerateContent response chunk by
// chunk, transforming each one before re-emission. It returns the usage
// metadata of the final chunk that carried one, or an error when the stream
// broke; after the first chunk went out the client sees a truncated 200
// stream, but the caller still settles the attempt as a failure.
func StreamHandler(c *gin.Context, resp *http.Response, v ModelVariant) (*relaymodel.UsageMetadata, *relaymodel.ErrorWithStatusCode) {
	defer func() { _ = resp.Body.Close() }()

	lg := gmw.GetLogger(c)
	common.SetEventStreamHeaders(c)

	scanner := bufio.NewScanner(resp.Body)
	helper.ConfigureScannerBuffer(scanner)

	var usage *relaymodel.UsageMetadata
	wroteAny := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk relaymodel.GeminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			lg.Warn("skip malformed stream chunk", zap.Error(err))
			continue
		}
		if chunk.UsageMetadata != nil {
			usage = chunk.UsageMetadata
		}

		transformed := TransformResponse(&chunk, v, true)
		if err := render.ObjectData(c, transformed); err != nil {
			lg.Warn("write stream chunk failed", zap.Error(err))
			break
		}
		wroteAny = true
	}

	if err := scanner.Err(); err != nil {
		if wroteAny {
			lg.Error("upstream stream broke mid-flight", zap.Error(err))
		}
		return usage, relaymodel.ErrorWrapper(err, "upstream_stream_interrupted", http.StatusBadGateway)
	}

	return usage, nil
}
