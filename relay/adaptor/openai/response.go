package openai

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Laisky/gemini-balance/common/random"
	"github.com/Laisky/gemini-balance/relay/adaptor/gemini"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
	"github.com/Laisky/gemini-balance/relay/tokens"
)

// mapFinishReason translates upstream finish reasons to OpenAI vocabulary.
func mapFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

// toolCallsFromParts converts functionCall parts into OpenAI tool calls.
func toolCallsFromParts(parts []relaymodel.Part) []relaymodel.ToolCall {
	var calls []relaymodel.ToolCall
	for _, part := range parts {
		if part.FunctionCall == nil {
			continue
		}
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			args = []byte("{}")
		}
		calls = append(calls, relaymodel.ToolCall{
			ID:   "call_" + random.GetUUID(),
			Type: "function",
			Function: relaymodel.ToolCallFunction{
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			},
		})
	}
	return calls
}

// usageFromMetadata maps upstream usage to OpenAI shape, counting tokens with
// the fallback encoder when upstream omitted the metadata.
func usageFromMetadata(meta *relaymodel.UsageMetadata, completionText string) relaymodel.Usage {
	if meta != nil && meta.TotalTokenCount > 0 {
		return relaymodel.Usage{
			PromptTokens:     meta.PromptTokenCount,
			CompletionTokens: meta.CandidatesTokenCount + meta.ThoughtsTokenCount,
			TotalTokens:      meta.TotalTokenCount,
		}
	}
	completionTokens := tokens.CountTokenText(completionText)
	return relaymodel.Usage{
		CompletionTokens: completionTokens,
		TotalTokens:      completionTokens,
	}
}

// ResponseGeminiToOpenAI converts a unary native response into an OpenAI chat
// completion.
func ResponseGeminiToOpenAI(id string, resp *relaymodel.GeminiResponse, v gemini.ModelVariant) *relaymodel.TextResponse {
	out := &relaymodel.TextResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   v.RequestModel,
	}

	var firstText string
	for i := range resp.Candidates {
		candidate := &resp.Candidates[i]
		rendered := gemini.RenderCandidate(candidate, v, false)
		if i == 0 {
			firstText = rendered.Text
		}

		message := relaymodel.ChatMessage{Role: "assistant", Content: rendered.Text}
		toolCalls := toolCallsFromParts(rendered.ToolCalls)
		if len(toolCalls) > 0 {
			message.ToolCalls = toolCalls
			message.Content = nil
		}

		out.Choices = append(out.Choices, relaymodel.TextResponseChoice{
			Index:        i,
			Message:      message,
			FinishReason: mapFinishReason(candidate.FinishReason, len(toolCalls) > 0),
		})
	}

	out.Usage = usageFromMetadata(resp.UsageMetadata, firstText)
	return out
}

// StreamChunkGeminiToOpenAI converts one native stream chunk into an OpenAI
// stream chunk. The completion id and created timestamp must stay constant
// across the whole stream.
func StreamChunkGeminiToOpenAI(id string, created int64, chunk *relaymodel.GeminiResponse, v gemini.ModelVariant) *relaymodel.ChatCompletionsStreamResponse {
	out := &relaymodel.ChatCompletionsStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   v.RequestModel,
	}

	for i := range chunk.Candidates {
		candidate := &chunk.Candidates[i]
		rendered := gemini.RenderCandidate(candidate, v, true)

		choice := relaymodel.ChatCompletionsStreamResponseChoice{
			Index: candidate.Index,
			Delta: relaymodel.StreamDelta{Content: rendered.Text},
		}
		toolCalls := toolCallsFromParts(rendered.ToolCalls)
		if len(toolCalls) > 0 {
			choice.Delta.ToolCalls = toolCalls
			choice.Delta.Content = ""
		}
		if candidate.FinishReason != "" {
			reason := mapFinishReason(candidate.FinishReason, len(toolCalls) > 0)
			choice.FinishReason = &reason
		}
		out.Choices = append(out.Choices, choice)
	}

	if chunk.UsageMetadata != nil && chunk.UsageMetadata.TotalTokenCount > 0 {
		usage := usageFromMetadata(chunk.UsageMetadata, "")
		out.Usage = &usage
	}
	return out
}

// EmptyStreamChunk builds a heartbeat chunk for fake streaming: no content,
// no finish reason, just keepalive.
func EmptyStreamChunk(id string, created int64, model string) *relaymodel.ChatCompletionsStreamResponse {
	return &relaymodel.ChatCompletionsStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []relaymodel.ChatCompletionsStreamResponseChoice{
			{Index: 0, Delta: relaymodel.StreamDelta{Content: ""}},
		},
	}
}

// ConvertEmbeddingRequest maps an OpenAI embeddings request onto a native
// batch embedding call. Input accepts a string or a list of strings.
func ConvertEmbeddingRequest(req *relaymodel.EmbeddingRequest, realModel string) (*relaymodel.BatchEmbedRequest, []string, error) {
	var inputs []string
	switch v := req.Input.(type) {
	case string:
		inputs = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				inputs = append(inputs, s)
			}
		}
	}

	out := &relaymodel.BatchEmbedRequest{}
	for _, input := range inputs {
		embedReq := relaymodel.EmbedContentRequest{
			Model:   "models/" + realModel,
			Content: &relaymodel.Content{Parts: []relaymodel.Part{{Text: input}}},
		}
		if req.Dimensions != nil {
			embedReq.OutputDimensionality = req.Dimensions
		}
		out.Requests = append(out.Requests, embedReq)
	}
	return out, inputs, nil
}

// EmbeddingResponseGeminiToOpenAI converts a batch embedding response,
// counting prompt tokens locally since upstream reports none.
func EmbeddingResponseGeminiToOpenAI(resp *relaymodel.BatchEmbedResponse, model string, inputs []string) *relaymodel.EmbeddingResponse {
	out := &relaymodel.EmbeddingResponse{
		Object: "list",
		Model:  model,
	}
	for i, embedding := range resp.Embeddings {
		out.Data = append(out.Data, relaymodel.EmbeddingData{
			Object:    "embedding",
			Index:     i,
			Embedding: embedding.Values,
		})
	}

	promptTokens := 0
	for _, input := range inputs {
		promptTokens += tokens.CountTokenText(input)
	}
	out.Usage = relaymodel.Usage{PromptTokens: promptTokens, TotalTokens: promptTokens}
	return out
}

// ModelListGeminiToOpenAI converts the upstream model list, appending the
// behavior pseudo-variants clients may request.
func ModelListGeminiToOpenAI(list *relaymodel.GeminiModelList) *relaymodel.ModelList {
	created := time.Now().Unix()
	out := &relaymodel.ModelList{Object: "list"}
	for _, m := range list.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		for _, variant := range []string{"", "-search", "-non-thinking"} {
			out.Data = append(out.Data, relaymodel.OpenAIModel{
				ID:      id + variant,
				Object:  "model",
				Created: created,
				OwnedBy: "google",
			})
		}
	}
	return out
}
