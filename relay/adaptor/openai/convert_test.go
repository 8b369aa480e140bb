package openai

import (
	"testing"

	"github.com/stretchr/testify/require"

	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

func TestConvertRequestRoles(t *testing.T) {
	t.Parallel()

	req := &relaymodel.ChatRequest{
		Model: "gemini-2.5-pro",
		Messages: []relaymodel.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi there"},
			{Role: "user", Content: "bye"},
		},
	}

	out, err := ConvertRequest(req)
	require.NoError(t, err)

	require.NotNil(t, out.SystemInstruction)
	require.Equal(t, "be terse", out.SystemInstruction.Parts[0].Text)

	require.Len(t, out.Contents, 3)
	require.Equal(t, "user", out.Contents[0].Role)
	require.Equal(t, "model", out.Contents[1].Role)
	require.Equal(t, "hi there", out.Contents[1].Parts[0].Text)
	require.Equal(t, "user", out.Contents[2].Role)
}

func TestConvertRequestDeveloperRole(t *testing.T) {
	t.Parallel()

	req := &relaymodel.ChatRequest{
		Messages: []relaymodel.ChatMessage{
			{Role: "developer", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	}

	out, err := ConvertRequest(req)
	require.NoError(t, err)
	require.NotNil(t, out.SystemInstruction)
	require.Equal(t, "be terse", out.SystemInstruction.Parts[0].Text)
}

func TestConvertRequestToolRoundTrip(t *testing.T) {
	t.Parallel()

	req := &relaymodel.ChatRequest{
		Messages: []relaymodel.ChatMessage{
			{Role: "user", Content: "weather in berlin?"},
			{Role: "assistant", ToolCalls: []relaymodel.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: relaymodel.ToolCallFunction{
					Name:      "get_weather",
					Arguments: `{"city":"berlin"}`,
				},
			}}},
			{Role: "tool", ToolCallID: "call_1", Content: `{"temp": 21}`},
		},
		Tools: []relaymodel.Tool{{
			Type: "function",
			Function: relaymodel.ToolFunction{
				Name:        "get_weather",
				Description: "current weather",
				Parameters: map[string]any{
					"type":    "object",
					"$schema": "http://json-schema.org/draft-07/schema#",
				},
			},
		}},
	}

	out, err := ConvertRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Contents, 3)

	call := out.Contents[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	require.Equal(t, "get_weather", call.Name)
	require.Equal(t, map[string]any{"city": "berlin"}, call.Args)

	// Tool results map back to the function name via the call id.
	resp := out.Contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	require.Equal(t, "get_weather", resp.Name)
	require.Equal(t, map[string]any{"temp": float64(21)}, resp.Response)

	require.Len(t, out.Tools, 1)
	decl := out.Tools[0].FunctionDeclarations[0]
	require.Equal(t, "get_weather", decl["name"])
	require.NotContains(t, decl["parameters"].(map[string]any), "$schema")
}

func TestConvertRequestNonJSONToolResult(t *testing.T) {
	t.Parallel()

	req := &relaymodel.ChatRequest{
		Messages: []relaymodel.ChatMessage{
			{Role: "tool", ToolCallID: "call_1", Content: "plain text result"},
		},
	}

	out, err := ConvertRequest(req)
	require.NoError(t, err)
	resp := out.Contents[0].Parts[0].FunctionResponse
	require.Equal(t, map[string]any{"result": "plain text result"}, resp.Response)
}

func TestConvertRequestStructuredUserContent(t *testing.T) {
	t.Parallel()

	req := &relaymodel.ChatRequest{
		Messages: []relaymodel.ChatMessage{
			{Role: "user", Content: []any{
				map[string]any{"type": "text", "text": "what is this?"},
				map[string]any{"type": "image_url", "image_url": map[string]any{
					"url": "data:image/png;base64,AAAA",
				}},
				map[string]any{"type": "image_url", "image_url": map[string]any{
					"url": "https://example.com/cat.png",
				}},
			}},
		},
	}

	out, err := ConvertRequest(req)
	require.NoError(t, err)
	parts := out.Contents[0].Parts
	require.Len(t, parts, 3)
	require.Equal(t, "what is this?", parts[0].Text)
	require.Equal(t, "image/png", parts[1].InlineData.MimeType)
	require.Equal(t, "AAAA", parts[1].InlineData.Data)
	require.Equal(t, "https://example.com/cat.png", parts[2].FileData.FileURI)
}

func TestConvertRequestGenerationConfig(t *testing.T) {
	t.Parallel()

	temperature := 0.7
	topP := 0.9
	maxTokens := 2048
	req := &relaymodel.ChatRequest{
		Messages:    []relaymodel.ChatMessage{{Role: "user", Content: "hello"}},
		Temperature: &temperature,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
		Stop:        []any{"END", "STOP"},
		ResponseFormat: &relaymodel.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &relaymodel.JSONSchemaSpec{
				Schema: map[string]any{"type": "object", "const": "x"},
			},
		},
	}

	out, err := ConvertRequest(req)
	require.NoError(t, err)

	cfg := out.GenerationConfig
	require.Equal(t, 0.7, *cfg.Temperature)
	require.Equal(t, 0.9, *cfg.TopP)
	require.Equal(t, 2048, *cfg.MaxOutputTokens)
	require.Equal(t, []string{"END", "STOP"}, cfg.StopSequences)
	require.Equal(t, "application/json", cfg.ResponseMimeType)
	require.NotContains(t, cfg.ResponseSchema, "const")
}

func TestConvertRequestStringStop(t *testing.T) {
	t.Parallel()

	req := &relaymodel.ChatRequest{
		Messages: []relaymodel.ChatMessage{{Role: "user", Content: "hello"}},
		Stop:     "END",
	}

	out, err := ConvertRequest(req)
	require.NoError(t, err)
	require.Equal(t, []string{"END"}, out.GenerationConfig.StopSequences)
}

func TestConvertRequestRejectsBadContent(t *testing.T) {
	t.Parallel()

	req := &relaymodel.ChatRequest{
		Messages: []relaymodel.ChatMessage{{Role: "user", Content: 42}},
	}
	_, err := ConvertRequest(req)
	require.Error(t, err)
}
