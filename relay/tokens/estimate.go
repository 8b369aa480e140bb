package tokens

import (
	"encoding/json"
)

// Pre-flight token estimation used for rate-limit reservations. The estimate
// is intentionally cheap and deterministic: CJK characters count as one token
// each, everything else as a quarter token, floored, with a minimum of one.

// EstimateText returns the fractional token weight of one text segment.
func EstimateText(text string) float64 {
	var total float64
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			total++
		} else {
			total += 0.25
		}
	}
	return total
}

// EstimatePayload estimates the token cost of a request payload. It walks the
// text leaves of all three supported shapes: native contents, batch embedding
// requests, and OpenAI messages. Unknown or binary parts contribute nothing.
func EstimatePayload(payload map[string]any) int {
	var total float64

	if contents, ok := payload["contents"].([]any); ok {
		for _, content := range contents {
			total += estimateContent(content)
		}
	}

	if requests, ok := payload["requests"].([]any); ok {
		for _, request := range requests {
			if m, ok := request.(map[string]any); ok {
				total += estimateContent(m["content"])
			}
		}
	}

	if messages, ok := payload["messages"].([]any); ok {
		for _, message := range messages {
			m, ok := message.(map[string]any)
			if !ok {
				continue
			}
			switch content := m["content"].(type) {
			case string:
				total += EstimateText(content)
			case []any:
				for _, part := range content {
					pm, ok := part.(map[string]any)
					if !ok {
						continue
					}
					if pm["type"] == "text" {
						if text, ok := pm["text"].(string); ok {
							total += EstimateText(text)
						}
					}
				}
			}
		}
	}

	if total < 1 {
		return 1
	}
	return int(total)
}

// EstimateRawPayload decodes a JSON body and estimates its token cost.
// Undecodable bodies cost the minimum of one token.
func EstimateRawPayload(body []byte) int {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return 1
	}
	return EstimatePayload(payload)
}

func estimateContent(content any) float64 {
	m, ok := content.(map[string]any)
	if !ok {
		return 0
	}
	parts, ok := m["parts"].([]any)
	if !ok {
		return 0
	}
	var total float64
	for _, part := range parts {
		pm, ok := part.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := pm["text"].(string); ok {
			total += EstimateText(text)
		}
	}
	return total
}
