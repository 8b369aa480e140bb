package controller

import (
	"net/http"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/gemini-balance/common"
	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/metrics"
	"github.com/Laisky/gemini-balance/model"
	"github.com/Laisky/gemini-balance/relay/adaptor/gemini"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
	"github.com/Laisky/gemini-balance/relay/tokens"
)

// RelayGeminiModelAction serves POST /models/{model}:{action} in the native
// dialect. The whole "{model}:{action}" pair arrives as one path segment.
func RelayGeminiModelAction(c *gin.Context) {
	segment := strings.TrimPrefix(c.Param("modelAction"), "/")
	modelName, action, ok := strings.Cut(segment, ":")
	if !ok || modelName == "" || action == "" {
		WriteErrorNative(c, relaymodel.ErrorWrapperf(http.StatusNotFound,
			"unknown_path", "expected models/{model}:{action}, got %q", segment))
		return
	}

	switch action {
	case "generateContent":
		relayGeminiGenerate(c, modelName, false)
	case "streamGenerateContent":
		relayGeminiGenerate(c, modelName, true)
	case "countTokens":
		relayGeminiCountTokens(c, modelName)
	case "embedContent":
		relayGeminiEmbed(c, modelName)
	case "batchEmbedContents":
		relayGeminiBatchEmbed(c, modelName)
	default:
		WriteErrorNative(c, relaymodel.ErrorWrapperf(http.StatusNotFound,
			"unknown_action", "unsupported model action %q", action))
	}
}

func relayGeminiGenerate(c *gin.Context, requestModel string, stream bool) {
	lg := gmw.GetLogger(c)
	startTime := time.Now()

	var req relaymodel.GeminiRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		WriteErrorNative(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}
	if gc := req.GenerationConfig; gc != nil && gc.MaxOutputTokens != nil && *gc.MaxOutputTokens <= 0 {
		WriteErrorNative(c, relaymodel.ErrorWrapperf(http.StatusBadRequest,
			"invalid_request_body", "maxOutputTokens must be positive, got %d", *gc.MaxOutputTokens))
		return
	}

	v := gemini.ParseModelVariant(requestModel)
	body, _ := common.GetRequestBody(c)
	estimated := tokens.EstimateRawPayload(body)
	payload := gemini.BuildPayload(&req, v)

	tried := map[string]bool{}
	lastKey := ""
	var lastErr *relaymodel.ErrorWithStatusCode

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		res, errResp := selectKeyAndReserve(v.RequestModel, estimated, tried)
		if errResp != nil {
			// An exhausted pool after failed attempts reports the upstream
			// failure, not the pool state.
			if lastErr != nil {
				errResp = lastErr
			}
			recordFailure(c, dialectGemini, v.RequestModel, lastKey, stream, startTime, errResp)
			WriteErrorNative(c, errResp)
			return
		}

		if stream {
			errResp = executeGeminiStream(c, res, payload, v, startTime)
		} else {
			errResp = executeGeminiUnary(c, res, payload, v, startTime)
		}
		if errResp == nil {
			return
		}

		res.settleFailure(errResp.KeepReservation)
		if countsAsKeyFailure(errResp) {
			KeyPool.HandleAPIFailure(res.key)
		}
		metrics.GlobalRecorder.RecordRelayRequest(startTime, v.RequestModel,
			redacted(res.key), dialectGemini, stream, false, 0, 0)
		lastKey = redacted(res.key)
		lastErr = errResp

		if !shouldRetry(errResp) {
			break
		}
		lg.Warn("upstream attempt failed, rotating credential",
			zap.Int("attempt", attempt),
			zap.String("key", redacted(res.key)),
			zap.Int("status", errResp.StatusCode))
	}

	recordFailure(c, dialectGemini, v.RequestModel, lastKey, stream, startTime, lastErr)
	WriteErrorNative(c, lastErr)
}

func executeGeminiUnary(c *gin.Context, res *reservation, payload *relaymodel.GeminiRequest, v gemini.ModelVariant, startTime time.Time) *relaymodel.ErrorWithStatusCode {
	resp, errResp := Upstream.GenerateContent(c.Request.Context(), v.RealModel, res.key, payload)
	if errResp != nil {
		return errResp
	}

	actual := gemini.ActualTokens(resp)
	res.settleSuccess(actual)

	transformed := gemini.TransformResponse(resp, v, false)
	c.JSON(http.StatusOK, transformed)

	finishRelaySuccess(c, res, v, dialectGemini, false, startTime, resp.UsageMetadata)
	return nil
}

func executeGeminiStream(c *gin.Context, res *reservation, payload *relaymodel.GeminiRequest, v gemini.ModelVariant, startTime time.Time) *relaymodel.ErrorWithStatusCode {
	resp, errResp := Upstream.StreamGenerateContent(c.Request.Context(), v.RealModel, res.key, payload)
	if errResp != nil {
		return errResp
	}

	usage, errResp := gemini.StreamHandler(c, resp, v)
	if errResp != nil {
		return errResp
	}

	actual := 0
	if usage != nil {
		actual = usage.TotalTokenCount
	}
	res.settleSuccess(actual)

	finishRelaySuccess(c, res, v, dialectGemini, true, startTime, usage)
	return nil
}

func relayGeminiCountTokens(c *gin.Context, requestModel string) {
	var req relaymodel.CountTokensRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		WriteErrorNative(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}

	v := gemini.ParseModelVariant(requestModel)
	relayGeminiPassthrough(c, v, func(key string) (any, *relaymodel.ErrorWithStatusCode) {
		return passthroughResult(Upstream.CountTokens(c.Request.Context(), v.RealModel, key, &req))
	})
}

func relayGeminiEmbed(c *gin.Context, requestModel string) {
	var req relaymodel.EmbedContentRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		WriteErrorNative(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}

	v := gemini.ParseModelVariant(requestModel)
	req.Model = "models/" + v.RealModel
	relayGeminiPassthrough(c, v, func(key string) (any, *relaymodel.ErrorWithStatusCode) {
		return passthroughResult(Upstream.EmbedContent(c.Request.Context(), v.RealModel, key, &req))
	})
}

func relayGeminiBatchEmbed(c *gin.Context, requestModel string) {
	var req relaymodel.BatchEmbedRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		WriteErrorNative(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}

	v := gemini.ParseModelVariant(requestModel)
	for i := range req.Requests {
		req.Requests[i].Model = "models/" + v.RealModel
	}
	relayGeminiPassthrough(c, v, func(key string) (any, *relaymodel.ErrorWithStatusCode) {
		return passthroughResult(Upstream.BatchEmbedContents(c.Request.Context(), v.RealModel, key, &req))
	})
}

// passthroughResult narrows a typed client result to the passthrough shape.
func passthroughResult[T any](out *T, errResp *relaymodel.ErrorWithStatusCode) (any, *relaymodel.ErrorWithStatusCode) {
	if errResp != nil {
		return nil, errResp
	}
	return out, nil
}

// relayGeminiPassthrough runs the key rotation pipeline around a unary call
// whose response is forwarded untouched. Token settlement uses the pre-flight
// estimate as actual since these endpoints report no usage.
func relayGeminiPassthrough(c *gin.Context, v gemini.ModelVariant, call func(key string) (any, *relaymodel.ErrorWithStatusCode)) {
	startTime := time.Now()
	body, _ := common.GetRequestBody(c)
	estimated := tokens.EstimateRawPayload(body)

	tried := map[string]bool{}
	lastKey := ""
	var lastErr *relaymodel.ErrorWithStatusCode

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		res, errResp := selectKeyAndReserve(v.RequestModel, estimated, tried)
		if errResp != nil {
			if lastErr != nil {
				errResp = lastErr
			}
			recordFailure(c, dialectGemini, v.RequestModel, lastKey, false, startTime, errResp)
			WriteErrorNative(c, errResp)
			return
		}

		out, errResp := call(res.key)
		if errResp == nil {
			res.settleSuccess(estimated)
			c.JSON(http.StatusOK, out)
			finishRelaySuccess(c, res, v, dialectGemini, false, startTime, nil)
			return
		}

		res.settleFailure(errResp.KeepReservation)
		if countsAsKeyFailure(errResp) {
			KeyPool.HandleAPIFailure(res.key)
		}
		lastKey = redacted(res.key)
		lastErr = errResp
		if !shouldRetry(errResp) {
			break
		}
	}

	recordFailure(c, dialectGemini, v.RequestModel, lastKey, false, startTime, lastErr)
	WriteErrorNative(c, lastErr)
}

// ListGeminiModels serves GET /models in the native dialect.
func ListGeminiModels(c *gin.Context) {
	startTime := time.Now()

	key, err := KeyPool.GetNextWorkingKey()
	if err != nil {
		WriteErrorNative(c, relaymodel.ErrorWrapper(err, "no_keys_available", http.StatusServiceUnavailable))
		return
	}

	list, errResp := Upstream.ListModels(c.Request.Context(), key)
	if errResp != nil {
		recordFailure(c, dialectGemini, "", redacted(key), false, startTime, errResp)
		WriteErrorNative(c, errResp)
		return
	}
	c.JSON(http.StatusOK, list)
}

// finishRelaySuccess emits the metrics and request log shared by every
// successful relay exit.
func finishRelaySuccess(c *gin.Context, res *reservation, v gemini.ModelVariant, dialect string, stream bool, startTime time.Time, usage *relaymodel.UsageMetadata) {
	promptTokens, completionTokens, totalTokens := 0, 0, 0
	if usage != nil {
		promptTokens = usage.PromptTokenCount
		completionTokens = usage.CandidatesTokenCount + usage.ThoughtsTokenCount
		totalTokens = usage.TotalTokenCount
	}

	metrics.GlobalRecorder.RecordRelayRequest(startTime, v.RequestModel,
		redacted(res.key), dialect, stream, true, promptTokens, completionTokens)

	model.RecordRequestLog(c.Request.Context(), &model.RequestLog{
		RequestId:        c.GetHeader("X-Request-Id"),
		Model:            v.RequestModel,
		Key:              redacted(res.key),
		Dialect:          dialect,
		Streaming:        stream,
		Success:          true,
		StatusCode:       http.StatusOK,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		LatencyMs:        time.Since(startTime).Milliseconds(),
	})
}
