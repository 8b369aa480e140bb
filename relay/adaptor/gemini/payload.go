package gemini

import (
	"strings"

	"github.com/Laisky/gemini-balance/common/config"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// BuildPayload shapes a parsed request into the payload actually sent
// upstream: empty parts are dropped, tools are composed per the model
// variant, safety settings are forced, and the thinking config is resolved.
// The input request is not mutated.
func BuildPayload(req *relaymodel.GeminiRequest, v ModelVariant) *relaymodel.GeminiRequest {
	payload := &relaymodel.GeminiRequest{
		Contents:          FilterEmptyParts(req.Contents),
		SystemInstruction: req.SystemInstruction,
		ToolConfig:        req.ToolConfig,
		SafetySettings:    SafetySettingsFor(v.RequestModel),
	}
	payload.Tools = buildTools(req, payload.Contents, v)

	genConfig := relaymodel.GenerationConfig{}
	if req.GenerationConfig != nil {
		genConfig = *req.GenerationConfig
	}

	if v.ImageGen {
		// Image generation rejects system instructions and needs both
		// modalities requested explicitly.
		payload.SystemInstruction = nil
		genConfig.ResponseModalities = []string{"Text", "Image"}
	}

	if genConfig.ThinkingConfig == nil {
		genConfig.ThinkingConfig = resolveThinkingConfig(v)
	}

	payload.GenerationConfig = &genConfig
	return payload
}

// FilterEmptyParts drops parts without any payload and turns without any
// remaining parts. Upstream rejects both.
func FilterEmptyParts(contents []relaymodel.Content) []relaymodel.Content {
	filtered := make([]relaymodel.Content, 0, len(contents))
	for _, content := range contents {
		parts := make([]relaymodel.Part, 0, len(content.Parts))
		for _, part := range content.Parts {
			if part.IsEmpty() {
				continue
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			continue
		}
		content.Parts = parts
		filtered = append(filtered, content)
	}
	return filtered
}

// buildTools merges client tools into a single entry, cleans function
// declaration schemas, and applies built-in tool policy:
//   - structured JSON output excludes every tool
//   - function calling excludes built-in tools
//   - codeExecution is skipped for search and thinking variants and for
//     requests carrying media parts
func buildTools(req *relaymodel.GeminiRequest, contents []relaymodel.Content, v ModelVariant) []relaymodel.GeminiTool {
	var tool relaymodel.GeminiTool

	for _, clientTool := range req.Tools {
		if len(clientTool.FunctionDeclarations) > 0 {
			for _, decl := range clientTool.FunctionDeclarations {
				tool.FunctionDeclarations = append(tool.FunctionDeclarations, CleanJSONSchema(decl))
			}
		}
		if clientTool.CodeExecution != nil {
			tool.CodeExecution = clientTool.CodeExecution
		}
		if clientTool.GoogleSearch != nil {
			tool.GoogleSearch = clientTool.GoogleSearch
		}
		if clientTool.URLContext != nil {
			tool.URLContext = clientTool.URLContext
		}
	}

	// Tool use with responseMimeType application/json is rejected upstream.
	structuredOutput := req.GenerationConfig != nil &&
		req.GenerationConfig.ResponseMimeType == "application/json"

	if !structuredOutput {
		if config.ToolsCodeExecutionEnabled &&
			!v.UseSearch &&
			!strings.Contains(v.RequestModel, "-thinking") &&
			!hasMediaParts(contents) {
			tool.CodeExecution = map[string]any{}
		}
		if v.UseSearch {
			tool.GoogleSearch = map[string]any{}
		}
		if config.URLContextEnabled && containsString(config.URLContextModels, v.RealModel) {
			tool.URLContext = map[string]any{}
		}
	} else {
		tool.CodeExecution = nil
		tool.GoogleSearch = nil
		tool.URLContext = nil
	}

	// Built-in tools cannot be combined with function calling.
	if len(tool.FunctionDeclarations) > 0 || hasFunctionCall(contents) {
		tool.CodeExecution = nil
		tool.GoogleSearch = nil
		tool.URLContext = nil
	}

	if len(tool.FunctionDeclarations) == 0 && tool.CodeExecution == nil &&
		tool.GoogleSearch == nil && tool.URLContext == nil {
		return nil
	}
	return []relaymodel.GeminiTool{tool}
}

// resolveThinkingConfig applies the default thinking policy when the client
// did not send one.
func resolveThinkingConfig(v ModelVariant) *relaymodel.ThinkingConfig {
	if v.NonThinking {
		// gemini-2.5-pro cannot disable thinking entirely; 128 is its floor.
		budget := 0
		if strings.Contains(v.RequestModel, "gemini-2.5-pro") {
			budget = 128
		}
		return &relaymodel.ThinkingConfig{ThinkingBudget: &budget}
	}

	if _, ok := config.ThinkingBudgetMap[v.RealModel]; ok {
		budget, found := config.ThinkingBudgetMap[v.RequestModel]
		if !found {
			budget = 1000
		}
		return &relaymodel.ThinkingConfig{
			ThinkingBudget:  &budget,
			IncludeThoughts: config.ShowThinkingProcess,
		}
	}

	return nil
}

func hasFunctionCall(contents []relaymodel.Content) bool {
	for _, content := range contents {
		for _, part := range content.Parts {
			if part.FunctionCall != nil {
				return true
			}
		}
	}
	return false
}

func hasMediaParts(contents []relaymodel.Content) bool {
	for _, content := range contents {
		for _, part := range content.Parts {
			if part.InlineData != nil || part.FileData != nil {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
