package openai

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/gemini-balance/relay/adaptor/gemini"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// ConvertRequest rewrites an OpenAI chat completion request into the native
// request shape. System messages fold into systemInstruction, tool calls and
// tool results map to functionCall/functionResponse parts, and sampling
// options move into generationConfig. top_k is dropped: the OpenAI dialect
// has no upstream equivalent contract.
func ConvertRequest(req *relaymodel.ChatRequest) (*relaymodel.GeminiRequest, error) {
	out := &relaymodel.GeminiRequest{}

	// tool_call_id -> function name, needed to build functionResponse parts.
	callNames := map[string]string{}

	var systemParts []relaymodel.Part

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case "system", "developer":
			text, err := flattenTextContent(msg.Content)
			if err != nil {
				return nil, errors.Wrapf(err, "message %d", i)
			}
			if text != "" {
				systemParts = append(systemParts, relaymodel.Part{Text: text})
			}
		case "assistant":
			content := relaymodel.Content{Role: "model"}
			text, err := flattenTextContent(msg.Content)
			if err != nil {
				return nil, errors.Wrapf(err, "message %d", i)
			}
			if text != "" {
				content.Parts = append(content.Parts, relaymodel.Part{Text: text})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Function.Name
				args := map[string]any{}
				if call.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
						return nil, errors.Wrapf(err, "tool call %s arguments", call.ID)
					}
				}
				content.Parts = append(content.Parts, relaymodel.Part{
					FunctionCall: &relaymodel.FunctionCall{Name: call.Function.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				out.Contents = append(out.Contents, content)
			}
		case "tool":
			text, err := flattenTextContent(msg.Content)
			if err != nil {
				return nil, errors.Wrapf(err, "message %d", i)
			}
			response := map[string]any{}
			if err := json.Unmarshal([]byte(text), &response); err != nil {
				response = map[string]any{"result": text}
			}
			out.Contents = append(out.Contents, relaymodel.Content{
				Role: "user",
				Parts: []relaymodel.Part{{
					FunctionResponse: &relaymodel.FunctionResponse{
						Name:     callNames[msg.ToolCallID],
						Response: response,
					},
				}},
			})
		default: // user
			parts, err := convertUserContent(msg.Content)
			if err != nil {
				return nil, errors.Wrapf(err, "message %d", i)
			}
			if len(parts) > 0 {
				out.Contents = append(out.Contents, relaymodel.Content{Role: "user", Parts: parts})
			}
		}
	}

	if len(systemParts) > 0 {
		out.SystemInstruction = &relaymodel.Content{Parts: systemParts}
	}

	if len(req.Tools) > 0 {
		var decls []map[string]any
		for _, tool := range req.Tools {
			decl := map[string]any{
				"name":        tool.Function.Name,
				"description": tool.Function.Description,
			}
			if tool.Function.Parameters != nil {
				decl["parameters"] = gemini.CleanJSONSchema(tool.Function.Parameters)
			}
			decls = append(decls, decl)
		}
		out.Tools = []relaymodel.GeminiTool{{FunctionDeclarations: decls}}
	}

	out.GenerationConfig = convertGenerationConfig(req)
	return out, nil
}

func convertGenerationConfig(req *relaymodel.ChatRequest) *relaymodel.GenerationConfig {
	cfg := &relaymodel.GenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		CandidateCount:  req.N,
		MaxOutputTokens: req.MaxTokens,
	}

	switch stop := req.Stop.(type) {
	case string:
		cfg.StopSequences = []string{stop}
	case []any:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				cfg.StopSequences = append(cfg.StopSequences, str)
			}
		}
	}

	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "json_object":
			cfg.ResponseMimeType = "application/json"
		case "json_schema":
			cfg.ResponseMimeType = "application/json"
			if req.ResponseFormat.JSONSchema != nil && req.ResponseFormat.JSONSchema.Schema != nil {
				cfg.ResponseSchema = gemini.CleanJSONSchema(req.ResponseFormat.JSONSchema.Schema)
			}
		}
	}
	return cfg
}

// flattenTextContent extracts plain text from a string or structured content.
func flattenTextContent(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []any:
		var sb strings.Builder
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String(), nil
	default:
		return "", errors.Errorf("unsupported content type %T", content)
	}
}

// convertUserContent maps user message content to native parts. Data URLs
// become inline data; other image URLs pass through as file references.
func convertUserContent(content any) ([]relaymodel.Part, error) {
	switch v := content.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []relaymodel.Part{{Text: v}}, nil
	case []any:
		var parts []relaymodel.Part
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case "text":
				if text, ok := m["text"].(string); ok && text != "" {
					parts = append(parts, relaymodel.Part{Text: text})
				}
			case "image_url":
				urlObj, ok := m["image_url"].(map[string]any)
				if !ok {
					continue
				}
				url, _ := urlObj["url"].(string)
				if url == "" {
					continue
				}
				if part, ok := dataURLToInlinePart(url); ok {
					parts = append(parts, part)
				} else {
					parts = append(parts, relaymodel.Part{
						FileData: &relaymodel.FileData{FileURI: url},
					})
				}
			}
		}
		return parts, nil
	default:
		return nil, errors.Errorf("unsupported content type %T", content)
	}
}

func dataURLToInlinePart(url string) (relaymodel.Part, bool) {
	if !strings.HasPrefix(url, "data:") {
		return relaymodel.Part{}, false
	}
	idx := strings.Index(url, ";base64,")
	if idx < 0 {
		return relaymodel.Part{}, false
	}
	return relaymodel.Part{
		InlineData: &relaymodel.InlineData{
			MimeType: url[len("data:"):idx],
			Data:     url[idx+len(";base64,"):],
		},
	}, true
}
