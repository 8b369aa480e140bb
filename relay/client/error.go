package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// quotaExhaustedMarker appears in upstream 429 bodies when the key's own
// quota is spent. Such failures keep their per-key reservation because the
// upstream has already counted the request.
const quotaExhaustedMarker = "Resource has been exhausted"

// upstreamError is the generativelanguage error envelope.
type upstreamError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// RelayErrorHandler converts a non-2xx upstream response into a relay error,
// draining and closing the body.
func RelayErrorHandler(resp *http.Response) *relaymodel.ErrorWithStatusCode {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		body = nil
	}

	result := &relaymodel.ErrorWithStatusCode{
		StatusCode: resp.StatusCode,
		Error: relaymodel.Error{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("upstream returned status %d", resp.StatusCode),
			Type:    "upstream_error",
		},
	}

	var parsed upstreamError
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Error.Message != "" {
		result.Error.Message = parsed.Error.Message
		if parsed.Error.Status != "" {
			result.Error.Type = parsed.Error.Status
		}
		if parsed.Error.Code != 0 {
			result.Error.Code = parsed.Error.Code
		}
	} else if len(body) > 0 {
		result.Error.Message = strings.TrimSpace(string(body))
	}

	if resp.StatusCode == http.StatusTooManyRequests &&
		strings.Contains(result.Error.Message, quotaExhaustedMarker) {
		result.KeepReservation = true
	}

	return result
}
