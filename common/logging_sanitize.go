package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Laisky/gemini-balance/common/helper"
)

const (
	// DefaultLogBodyLimit caps log previews of request payloads.
	DefaultLogBodyLimit = 4096
	// LogTruncationSuffix marks truncated log values.
	LogTruncationSuffix = "...[truncated]"

	inlineDataPreviewCutoff = 256
)

// credentialFields are payload keys whose string values are upstream or
// inbound credentials; their values never reach the logs unredacted.
var credentialFields = map[string]bool{
	"key":            true,
	"api_key":        true,
	"authorization":  true,
	"x-goog-api-key": true,
	"token":          true,
}

// SanitizePayloadForLogging produces a log-safe preview of a relay request
// body: credentials are redacted, inline media (inlineData parts, data URLs,
// bare base64 blobs) collapses to a length placeholder, and the whole preview
// is capped at limit bytes. Returns the preview and whether it was cut.
func SanitizePayloadForLogging(body []byte, limit int) ([]byte, bool) {
	if limit <= 0 {
		return body, false
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return capBytes(body, limit)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return capBytes(body, limit)
	}

	preview, err := json.Marshal(scrubValue("", decoded, limit))
	if err != nil {
		return capBytes(body, limit)
	}
	if len(preview) <= limit {
		return preview, false
	}
	return capWithSuffix(preview, limit), true
}

// scrubValue walks the decoded payload. The parent key decides how a string
// leaf is treated: credential fields are redacted, inlineData payloads are
// replaced wholesale, everything else is capped.
func scrubValue(parentKey string, value any, limit int) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = scrubValue(strings.ToLower(key), inner, limit)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = scrubValue(parentKey, inner, limit)
		}
		return out
	case string:
		return scrubString(parentKey, v, limit)
	default:
		return v
	}
}

func scrubString(parentKey, value string, limit int) string {
	if value == "" {
		return value
	}
	if credentialFields[parentKey] {
		return helper.RedactKey(value)
	}
	// The data field of an inlineData part is raw base64; its size is the
	// only thing worth logging.
	if parentKey == "data" && looksLikeBase64(value) {
		return fmt.Sprintf("[inline data len=%d]", len(value))
	}
	if header, payloadLen, ok := splitDataURL(value); ok {
		return capString(fmt.Sprintf("%s[truncated base64 len=%d]", header, payloadLen), limit)
	}
	if len(value) >= inlineDataPreviewCutoff && looksLikeBase64(value) {
		return fmt.Sprintf("[base64 len=%d]", len(value))
	}
	return capString(value, limit)
}

// splitDataURL separates a base64 data URL into its header (through the
// "base64," marker) and the payload length.
func splitDataURL(value string) (header string, payloadLen int, ok bool) {
	if !strings.HasPrefix(strings.ToLower(value), "data:") {
		return "", 0, false
	}
	idx := strings.Index(value, "base64,")
	if idx < 0 {
		return "", 0, false
	}
	cut := idx + len("base64,")
	return value[:cut], len(value) - cut, true
}

// looksLikeBase64 reports whether the string reads as one unbroken run of
// base64 alphabet characters. Short strings are left alone since prose can
// qualify too.
func looksLikeBase64(value string) bool {
	if len(value) < inlineDataPreviewCutoff {
		return false
	}
	for i := 0; i < len(value) && i < inlineDataPreviewCutoff; i++ {
		ch := value[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
		case ch == '+' || ch == '/' || ch == '=' || ch == '-' || ch == '_':
		default:
			return false
		}
	}
	return true
}

func capString(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	if limit <= len(LogTruncationSuffix) {
		return LogTruncationSuffix[:limit]
	}
	return value[:limit-len(LogTruncationSuffix)] + LogTruncationSuffix
}

func capWithSuffix(data []byte, limit int) []byte {
	suffix := []byte(LogTruncationSuffix)
	if limit <= len(suffix) {
		return append([]byte{}, suffix[:limit]...)
	}
	out := make([]byte, 0, limit)
	out = append(out, data[:limit-len(suffix)]...)
	return append(out, suffix...)
}

func capBytes(body []byte, limit int) ([]byte, bool) {
	if len(body) <= limit {
		return body, false
	}
	return body[:limit], true
}
