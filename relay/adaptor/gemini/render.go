package gemini

import (
	"fmt"
	"strings"

	"github.com/Laisky/gemini-balance/common/config"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// Rendered is the flattened view of one candidate: non-text parts are folded
// into markdown text, tool calls are kept as raw functionCall parts.
type Rendered struct {
	Text       string
	Thought    bool
	HasThought bool
	ToolCalls  []relaymodel.Part
}

// RenderCandidate flattens a candidate's parts into text plus tool calls.
// In stream mode only the first part carries renderable payload, matching the
// chunk granularity upstream emits; unary responses concatenate everything.
func RenderCandidate(candidate *relaymodel.Candidate, v ModelVariant, stream bool) Rendered {
	var r Rendered
	if candidate == nil || candidate.Content == nil {
		return r
	}
	parts := candidate.Content.Parts

	if stream {
		if len(parts) > 0 {
			first := parts[0]
			switch {
			case first.Text != "":
				r.Text = first.Text
				if first.Thought {
					r.Thought = true
					r.HasThought = true
				}
			case first.ExecutableCode != nil:
				r.Text = formatCodeBlock(first.ExecutableCode)
			case first.CodeExecutionResult != nil:
				r.Text = formatExecutionResult(first.CodeExecutionResult)
			case first.InlineData != nil:
				r.Text = formatInlineImage(first.InlineData)
			}
		}
	} else {
		for _, part := range parts {
			switch {
			case part.Text != "":
				r.Text += part.Text
				if part.Thought && !r.HasThought {
					r.Thought = true
					r.HasThought = true
				}
			case part.InlineData != nil:
				r.Text += formatInlineImage(part.InlineData)
			}
		}
	}

	r.Text = addSearchLinks(candidate, v, r.Text)

	for _, part := range parts {
		if part.FunctionCall != nil {
			r.ToolCalls = append(r.ToolCalls, relaymodel.Part{FunctionCall: part.FunctionCall})
		}
	}
	return r
}

// HasInlineImage reports whether any candidate carries inline image data.
// Such responses pass through untouched when no image uploader is configured,
// so base64 payloads are not mangled by text rendering.
func HasInlineImage(resp *relaymodel.GeminiResponse) bool {
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil {
				return true
			}
		}
	}
	return false
}

func formatCodeBlock(code *relaymodel.ExecutableCode) string {
	return fmt.Sprintf("\n\n---\n\nExecuted code:\n```%s\n%s\n```\n",
		strings.ToLower(code.Language), strings.TrimSpace(code.Code))
}

func formatExecutionResult(result *relaymodel.CodeExecutionResult) string {
	return fmt.Sprintf("\nExecution outcome: %s\n\nOutput:\n```plaintext\n%s\n```\n\n---\n\n",
		result.Outcome, strings.TrimSpace(result.Output))
}

func formatInlineImage(data *relaymodel.InlineData) string {
	return fmt.Sprintf("\n\n![image](data:%s;base64,%s)\n\n", data.MimeType, data.Data)
}

// addSearchLinks appends grounding citations to search variant output.
func addSearchLinks(candidate *relaymodel.Candidate, v ModelVariant, text string) string {
	if !config.ShowSearchLink || !v.UseSearch {
		return text
	}
	if candidate.GroundingMetadata == nil || len(candidate.GroundingMetadata.GroundingChunks) == 0 {
		return text
	}

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\n---\n\n**Sources:**\n")
	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		if chunk.Web != nil {
			sb.WriteString(fmt.Sprintf("\n- [%s](%s)", chunk.Web.Title, chunk.Web.URI))
		}
	}
	return sb.String()
}
