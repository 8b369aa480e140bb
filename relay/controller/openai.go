package controller

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"

	"github.com/Laisky/gemini-balance/common"
	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/helper"
	"github.com/Laisky/gemini-balance/common/metrics"
	"github.com/Laisky/gemini-balance/common/render"
	"github.com/Laisky/gemini-balance/common/tracing"
	"github.com/Laisky/gemini-balance/relay/adaptor/gemini"
	"github.com/Laisky/gemini-balance/relay/adaptor/openai"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
	"github.com/Laisky/gemini-balance/relay/tokens"
)

// RelayChatCompletions serves POST /v1/chat/completions.
func RelayChatCompletions(c *gin.Context) {
	lg := gmw.GetLogger(c)
	startTime := time.Now()

	var req relaymodel.ChatRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		WriteErrorOpenAI(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}
	if errResp := validateRequest(&req); errResp != nil {
		WriteErrorOpenAI(c, errResp)
		return
	}

	converted, err := openai.ConvertRequest(&req)
	if err != nil {
		WriteErrorOpenAI(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}

	v := gemini.ParseModelVariant(req.Model)
	body, _ := common.GetRequestBody(c)
	estimated := tokens.EstimateRawPayload(body)
	payload := gemini.BuildPayload(converted, v)

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
			recordFailure(c, dialectOpenAI, v.RequestModel, lastKey, req.Stream, startTime, errResp)
			WriteErrorOpenAI(c, errResp)
			return
		}

		switch {
		case req.Stream && config.FakeStreamEnabled:
			errResp = executeOpenAIFakeStream(c, res, payload, v, startTime)
		case req.Stream:
			errResp = executeOpenAIStream(c, res, payload, v, startTime)
		default:
			errResp = executeOpenAIUnary(c, res, payload, v, startTime)
		}
		if errResp == nil {
			return
		}

		res.settleFailure(errResp.KeepReservation)
		if countsAsKeyFailure(errResp) {
			KeyPool.HandleAPIFailure(res.key)
		}
		metrics.GlobalRecorder.RecordRelayRequest(startTime, v.RequestModel,
			redacted(res.key), dialectOpenAI, req.Stream, false, 0, 0)
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

	recordFailure(c, dialectOpenAI, v.RequestModel, lastKey, req.Stream, startTime, lastErr)
	WriteErrorOpenAI(c, lastErr)
}

func executeOpenAIUnary(c *gin.Context, res *reservation, payload *relaymodel.GeminiRequest, v gemini.ModelVariant, startTime time.Time) *relaymodel.ErrorWithStatusCode {
	resp, errResp := Upstream.GenerateContent(c.Request.Context(), v.RealModel, res.key, payload)
	if errResp != nil {
		return errResp
	}

	res.settleSuccess(gemini.ActualTokens(resp))

	out := openai.ResponseGeminiToOpenAI(tracing.GenerateChatCompletionID(c), resp, v)
	c.JSON(http.StatusOK, out)

	finishRelaySuccess(c, res, v, dialectOpenAI, false, startTime, resp.UsageMetadata)
	return nil
}

func executeOpenAIStream(c *gin.Context, res *reservation, payload *relaymodel.GeminiRequest, v gemini.ModelVariant, startTime time.Time) *relaymodel.ErrorWithStatusCode {
	resp, errResp := Upstream.StreamGenerateContent(c.Request.Context(), v.RealModel, res.key, payload)
	if errResp != nil {
		return errResp
	}
	defer func() { _ = resp.Body.Close() }()

	lg := gmw.GetLogger(c)
	common.SetEventStreamHeaders(c)

	id := tracing.GenerateChatCompletionID(c)
	created := time.Now().Unix()

	scanner := bufio.NewScanner(resp.Body)
	helper.ConfigureScannerBuffer(scanner)

	var optimizer *openai.StreamOptimizer
	if config.StreamOptimizerEnabled {
		optimizer = openai.NewStreamOptimizer()
	}

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

		out := openai.StreamChunkGeminiToOpenAI(id, created, &chunk, v)

		if text := openai.DeltaText(out); optimizer != nil && text != "" {
			err := optimizer.Smooth(text, func(piece string) error {
				return render.ObjectData(c, openai.TextStreamChunk(id, created, v.RequestModel, piece))
			})
			if err != nil {
				lg.Warn("write stream chunk failed", zap.Error(err))
				break
			}
			wroteAny = true
			// Finish reason and usage ride a trailing content-free chunk.
			if residual := openai.StripDeltaText(out); residual != nil {
				if err := render.ObjectData(c, residual); err != nil {
					lg.Warn("write stream chunk failed", zap.Error(err))
					break
				}
			}
			continue
		}

		if err := render.ObjectData(c, out); err != nil {
			lg.Warn("write stream chunk failed", zap.Error(err))
			break
		}
		wroteAny = true
	}

	if err := scanner.Err(); err != nil {
		// A broken upstream stream is a failed attempt even after chunks went
		// out; the caller releases the reservation and no [DONE] is emitted.
		if wroteAny {
			lg.Error("upstream stream broke mid-flight", zap.Error(err))
		}
		return relaymodel.ErrorWrapper(err, "upstream_stream_interrupted", http.StatusBadGateway)
	}

	actual := 0
	if usage != nil {
		actual = usage.TotalTokenCount
	}
	res.settleSuccess(actual)
	render.Done(c)

	finishRelaySuccess(c, res, v, dialectOpenAI, true, startTime, usage)
	return nil
}

// executeOpenAIFakeStream serves a streaming client from one unary upstream
// call, emitting heartbeat chunks until the response arrives.
func executeOpenAIFakeStream(c *gin.Context, res *reservation, payload *relaymodel.GeminiRequest, v gemini.ModelVariant, startTime time.Time) *relaymodel.ErrorWithStatusCode {
	common.SetEventStreamHeaders(c)

	id := tracing.GenerateChatCompletionID(c)
	created := time.Now().Unix()

	type unaryResult struct {
		resp    *relaymodel.GeminiResponse
		errResp *relaymodel.ErrorWithStatusCode
	}
	resultCh := make(chan unaryResult, 1)
	go func() {
		resp, errResp := Upstream.GenerateContent(c.Request.Context(), v.RealModel, res.key, payload)
		resultCh <- unaryResult{resp: resp, errResp: errResp}
	}()

	heartbeat := openai.EmptyStreamChunk(id, created, v.RequestModel)
	interval := time.Duration(config.FakeStreamEmptyDataIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var result unaryResult
waitLoop:
	for {
		select {
		case result = <-resultCh:
			break waitLoop
		case <-ticker.C:
			// Each heartbeat gets its own copy so concurrent marshaling never
			// races with the template.
			var tick relaymodel.ChatCompletionsStreamResponse
			if err := copier.Copy(&tick, heartbeat); err != nil {
				tick = *heartbeat
			}
			if err := render.ObjectData(c, &tick); err != nil {
				gmw.GetLogger(c).Warn("write heartbeat failed", zap.Error(err))
			}
		}
	}

	if result.errResp != nil {
		// Heartbeats already went out with status 200; surface the failure as
		// an in-stream error payload.
		return result.errResp
	}

	res.settleSuccess(gemini.ActualTokens(result.resp))

	out := openai.ResponseGeminiToOpenAI(id, result.resp, v)
	for _, choice := range out.Choices {
		chunk := &relaymodel.ChatCompletionsStreamResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   v.RequestModel,
		}
		finishReason := choice.FinishReason
		delta := relaymodel.StreamDelta{Role: "assistant"}
		if text, ok := choice.Message.Content.(string); ok {
			delta.Content = text
		}
		delta.ToolCalls = choice.Message.ToolCalls
		chunk.Choices = []relaymodel.ChatCompletionsStreamResponseChoice{{
			Index:        choice.Index,
			Delta:        delta,
			FinishReason: &finishReason,
		}}
		if err := render.ObjectData(c, chunk); err != nil {
			gmw.GetLogger(c).Warn("write fake stream chunk failed", zap.Error(err))
			break
		}
	}
	usageChunk := &relaymodel.ChatCompletionsStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   v.RequestModel,
		Usage:   &out.Usage,
	}
	_ = render.ObjectData(c, usageChunk)
	render.Done(c)

	finishRelaySuccess(c, res, v, dialectOpenAI, true, startTime, nil)
	return nil
}

// RelayEmbeddings serves POST /v1/embeddings.
func RelayEmbeddings(c *gin.Context) {
	startTime := time.Now()

	var req relaymodel.EmbeddingRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		WriteErrorOpenAI(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}
	if errResp := validateRequest(&req); errResp != nil {
		WriteErrorOpenAI(c, errResp)
		return
	}

	v := gemini.ParseModelVariant(req.Model)
	batch, inputs, err := openai.ConvertEmbeddingRequest(&req, v.RealModel)
	if err != nil || len(inputs) == 0 {
		WriteErrorOpenAI(c, relaymodel.ValidationError("input must be a string or a list of strings", nil))
		return
	}

	estimated := 0
	for _, input := range inputs {
		estimated += int(tokens.EstimateText(input))
	}
	if estimated < 1 {
		estimated = 1
	}

	tried := map[string]bool{}
	lastKey := ""
	var lastErr *relaymodel.ErrorWithStatusCode

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		res, errResp := selectKeyAndReserve(v.RequestModel, estimated, tried)
		if errResp != nil {
			if lastErr != nil {
				errResp = lastErr
			}
			recordFailure(c, dialectOpenAI, v.RequestModel, lastKey, false, startTime, errResp)
			WriteErrorOpenAI(c, errResp)
			return
		}

		resp, errResp := Upstream.BatchEmbedContents(c.Request.Context(), v.RealModel, res.key, batch)
		if errResp == nil {
			res.settleSuccess(estimated)
			c.JSON(http.StatusOK, openai.EmbeddingResponseGeminiToOpenAI(resp, req.Model, inputs))
			finishRelaySuccess(c, res, v, dialectOpenAI, false, startTime, nil)
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

	recordFailure(c, dialectOpenAI, v.RequestModel, lastKey, false, startTime, lastErr)
	WriteErrorOpenAI(c, lastErr)
}

// ListOpenAIModels serves GET /v1/models, including the behavior
// pseudo-variants of every upstream model.
func ListOpenAIModels(c *gin.Context) {
	startTime := time.Now()

	key, err := KeyPool.GetNextWorkingKey()
	if err != nil {
		WriteErrorOpenAI(c, relaymodel.ErrorWrapper(err, "no_keys_available", http.StatusServiceUnavailable))
		return
	}

	list, errResp := Upstream.ListModels(c.Request.Context(), key)
	if errResp != nil {
		recordFailure(c, dialectOpenAI, "", redacted(key), false, startTime, errResp)
		WriteErrorOpenAI(c, errResp)
		return
	}
	c.JSON(http.StatusOK, openai.ModelListGeminiToOpenAI(list))
}

// RelayImageGenerations serves POST /v1/images/generations by calling an
// image-capable model and returning generated images as base64 payloads.
func RelayImageGenerations(c *gin.Context) {
	startTime := time.Now()

	var req relaymodel.ImageGenerationRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		WriteErrorOpenAI(c, relaymodel.ErrorWrapper(err, "invalid_request_body", http.StatusBadRequest))
		return
	}
	if errResp := validateRequest(&req); errResp != nil {
		WriteErrorOpenAI(c, errResp)
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = "gemini-2.0-flash-exp-image-generation"
	}
	v := gemini.ParseModelVariant(modelName)
	if !v.ImageGen {
		v.ImageGen = true
	}

	payload := gemini.BuildPayload(&relaymodel.GeminiRequest{
		Contents: []relaymodel.Content{
			{Role: "user", Parts: []relaymodel.Part{{Text: req.Prompt}}},
		},
	}, v)

	estimated := int(tokens.EstimateText(req.Prompt))
	if estimated < 1 {
		estimated = 1
	}

	tried := map[string]bool{}
	lastKey := ""
	var lastErr *relaymodel.ErrorWithStatusCode

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		res, errResp := selectKeyAndReserve(v.RequestModel, estimated, tried)
		if errResp != nil {
			if lastErr != nil {
				errResp = lastErr
			}
			recordFailure(c, dialectOpenAI, v.RequestModel, lastKey, false, startTime, errResp)
			WriteErrorOpenAI(c, errResp)
			return
		}

		resp, errResp := Upstream.GenerateContent(c.Request.Context(), v.RealModel, res.key, payload)
		if errResp == nil {
			res.settleSuccess(gemini.ActualTokens(resp))
			c.JSON(http.StatusOK, imageGenerationResponse(resp))
			finishRelaySuccess(c, res, v, dialectOpenAI, false, startTime, resp.UsageMetadata)
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

	recordFailure(c, dialectOpenAI, v.RequestModel, lastKey, false, startTime, lastErr)
	WriteErrorOpenAI(c, lastErr)
}

func imageGenerationResponse(resp *relaymodel.GeminiResponse) gin.H {
	type imageDatum struct {
		B64JSON string `json:"b64_json"`
	}
	var data []imageDatum
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil {
				data = append(data, imageDatum{B64JSON: part.InlineData.Data})
			}
		}
	}
	return gin.H{"created": time.Now().Unix(), "data": data}
}
