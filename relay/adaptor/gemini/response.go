package gemini

import (
	"github.com/Laisky/gemini-balance/common/config"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// TransformResponse rewrites the first candidate's content per the rendering
// rules: code execution parts become markdown, search citations are appended,
// and tool calls replace text content. Responses carrying inline images pass
// through untouched unless an image uploader is configured.
func TransformResponse(resp *relaymodel.GeminiResponse, v ModelVariant, stream bool) *relaymodel.GeminiResponse {
	if resp == nil || len(resp.Candidates) == 0 {
		return resp
	}
	if HasInlineImage(resp) && !config.IsImageUploadConfigured() {
		return resp
	}

	candidate := &resp.Candidates[0]
	rendered := RenderCandidate(candidate, v, stream)

	var parts []relaymodel.Part
	if len(rendered.ToolCalls) > 0 {
		parts = rendered.ToolCalls
	} else {
		part := relaymodel.Part{Text: rendered.Text}
		if rendered.HasThought {
			part.Thought = rendered.Thought
		}
		parts = []relaymodel.Part{part}
	}

	candidate.Content = &relaymodel.Content{Role: "model", Parts: parts}
	return resp
}

// ActualTokens extracts total token usage from a response; zero when upstream
// omitted usage metadata.
func ActualTokens(resp *relaymodel.GeminiResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return resp.UsageMetadata.TotalTokenCount
}
