package common

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizePayloadInlineDataPart(t *testing.T) {
	t.Parallel()

	blob := strings.Repeat("A", 1024)
	body := []byte(`{"contents":[{"role":"user","parts":[{"inlineData":{"mimeType":"image/png","data":"` + blob + `"}}]}]}`)

	preview, truncated := SanitizePayloadForLogging(body, 512)
	text := string(preview)

	require.Contains(t, text, "[inline data len=1024]")
	require.NotContains(t, text, blob)
	require.False(t, truncated)
}

func TestSanitizePayloadDataURL(t *testing.T) {
	t.Parallel()

	blob := strings.Repeat("B", 1024)
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,` + blob + `"}}]}]}`)

	preview, truncated := SanitizePayloadForLogging(body, 512)
	text := string(preview)

	require.Contains(t, text, "data:image/png;base64,[truncated base64 len=1024]")
	require.NotContains(t, text, blob)
	require.False(t, truncated)
}

func TestSanitizePayloadRedactsCredentialFields(t *testing.T) {
	t.Parallel()

	body := []byte(`{"key":"AIzaSy-SECRET-MIDDLE-klmnop","model":"gemini-2.5-pro"}`)

	preview, _ := SanitizePayloadForLogging(body, 512)
	text := string(preview)

	require.NotContains(t, text, "SECRET")
	require.Contains(t, text, "AIzaSy")
	require.Contains(t, text, "gemini-2.5-pro")
}

func TestSanitizePayloadBareBase64(t *testing.T) {
	t.Parallel()

	blob := strings.Repeat("C", 1024)
	payload := map[string]any{"audio": blob}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	preview, truncated := SanitizePayloadForLogging(body, 512)
	require.Contains(t, string(preview), "[base64 len=1024]")
	require.NotContains(t, string(preview), blob)
	require.False(t, truncated)
}

func TestSanitizePayloadShortTextUntouched(t *testing.T) {
	t.Parallel()

	body := []byte(`{"contents":[{"parts":[{"text":"hello world"}]}]}`)
	preview, truncated := SanitizePayloadForLogging(body, 512)
	require.JSONEq(t, string(body), string(preview))
	require.False(t, truncated)
}

func TestSanitizePayloadNonJSONCapped(t *testing.T) {
	t.Parallel()

	preview, truncated := SanitizePayloadForLogging([]byte(strings.Repeat("x", 100)), 10)
	require.Len(t, preview, 10)
	require.True(t, truncated)
}
