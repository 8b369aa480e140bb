package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	commonclient "github.com/Laisky/gemini-balance/common/client"
	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/relay/client"
	"github.com/Laisky/gemini-balance/relay/keypool"
	"github.com/Laisky/gemini-balance/relay/limiter"
)

// fakeUpstream scripts per-request upstream behavior and records which
// credentials were tried.
type fakeUpstream struct {
	mu        sync.Mutex
	calls     int
	keysSeen  []string
	pathsSeen []string
	handler   func(call int, w http.ResponseWriter, r *http.Request)
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.keysSeen = append(f.keysSeen, r.Header.Get("x-goog-api-key"))
	f.pathsSeen = append(f.pathsSeen, r.URL.RequestURI())
	f.mu.Unlock()
	f.handler(call, w, r)
}

func (f *fakeUpstream) seenPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pathsSeen...)
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeUpstream) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keysSeen...)
}

const unaryResponseBody = `{
	"candidates": [{
		"content": {"role": "model", "parts": [{"text": "hello"}]},
		"finishReason": "STOP",
		"index": 0
	}],
	"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 7, "totalTokenCount": 12}
}`

func writeUnaryResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, unaryResponseBody)
}

func writeUpstreamError(w http.ResponseWriter, status int, message, googleStatus string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"status":%q}}`, status, message, googleStatus)
}

// setupRelay points the relay pipeline at a scripted upstream and restores
// everything afterwards.
func setupRelay(t *testing.T, upstream *fakeUpstream, keys []string,
	modelLimits map[string]config.TokenWindowLimit, keyLimits map[string]config.KeyRateLimit) {
	t.Helper()

	server := httptest.NewServer(upstream)

	prevBase := config.BaseURL
	prevHTTP := commonclient.HTTPClient
	prevPool, prevModel, prevKey, prevUpstream := KeyPool, ModelLimiter, KeyLimiter, Upstream
	prevRetries := config.MaxRetries

	config.BaseURL = server.URL
	commonclient.HTTPClient = server.Client()
	config.MaxRetries = 3

	KeyPool = keypool.NewPool(keys, 3)
	ModelLimiter = limiter.NewModelRateLimiter(modelLimits)
	KeyLimiter = limiter.NewKeyRateLimiter(keyLimits)
	Upstream = client.NewGeminiClient()

	t.Cleanup(func() {
		config.BaseURL = prevBase
		commonclient.HTTPClient = prevHTTP
		config.MaxRetries = prevRetries
		KeyPool, ModelLimiter, KeyLimiter, Upstream = prevPool, prevModel, prevKey, prevUpstream
		server.Close()
	})
}

func nativeRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/v1beta")
	group.GET("/models", ListGeminiModels)
	group.POST("/models/*modelAction", RelayGeminiModelAction)
	return router
}

func openaiRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v1/chat/completions", RelayChatCompletions)
	router.POST("/v1/embeddings", RelayEmbeddings)
	router.GET("/v1/models", ListOpenAIModels)
	return router
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGeminiGenerateContent(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 1000, WindowSeconds: 60}},
		map[string]config.KeyRateLimit{"*": {RPM: 10, TPM: 1000}})

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "hello", resp.Candidates[0].Content.Parts[0].Text)

	require.Equal(t, []string{"sk-a"}, upstream.seenKeys())

	// Both limiters settled to the actual usage of 12 tokens.
	require.Equal(t, 12, ModelLimiter.Usage("gemini-2.5-pro"))
	_, tpm, _ := KeyLimiter.Snapshot("gemini-2.5-pro", "sk-a")
	require.Equal(t, 12, tpm)
}

func TestGeminiGenerateRotatesKeysOn503(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 0 {
			writeUpstreamError(w, http.StatusServiceUnavailable, "overloaded", "UNAVAILABLE")
			return
		}
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a", "sk-b"}, nil, nil)

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"sk-a", "sk-b"}, upstream.seenKeys())
}

func TestGeminiGenerateRetriesExhausted(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUpstreamError(w, http.StatusServiceUnavailable, "overloaded", "UNAVAILABLE")
	}}
	setupRelay(t, upstream, []string{"sk-a", "sk-b"}, nil, nil)

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, http.StatusServiceUnavailable, resp.Error.Code)
	require.Equal(t, "UNAVAILABLE", resp.Error.Status)
	require.Equal(t, "overloaded", resp.Error.Message)

	// Every key was tried exactly once; the tried set caps rotation.
	require.Equal(t, 2, upstream.callCount())
}

func TestGeminiGenerateRequestTooLarge(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 100, WindowSeconds: 60}}, nil)

	body := fmt.Sprintf(`{"contents":[{"role":"user","parts":[{"text":%q}]}]}`,
		strings.Repeat("a", 4000))
	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent", body)

	// A request that can never fit the window renders as 429 like any other
	// budget rejection; the error code tells it apart.
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "exceeds the window limit")
	// The upstream is never touched for an unservable request.
	require.Zero(t, upstream.callCount())
	require.Zero(t, ModelLimiter.Usage("gemini-2.5-pro"))
}

func TestGeminiGenerateQuotaExhaustedKeepsKeyReservation(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUpstreamError(w, http.StatusTooManyRequests,
			"Resource has been exhausted (e.g. check quota).", "RESOURCE_EXHAUSTED")
	}}
	setupRelay(t, upstream, []string{"sk-a"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 1000, WindowSeconds: 60}},
		map[string]config.KeyRateLimit{"*": {RPM: 10, TPM: 1000}})

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// The key's own booking stands since upstream counted the request, but the
	// shared window gets its tokens back.
	rpm, tpm, rpd := KeyLimiter.Snapshot("gemini-2.5-pro", "sk-a")
	require.Equal(t, 1, rpm)
	require.Equal(t, 1, tpm)
	require.Equal(t, 1, rpd)
	require.Zero(t, ModelLimiter.Usage("gemini-2.5-pro"))
}

func TestGeminiGenerateQuotaExhaustedDoesNotRotate(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUpstreamError(w, http.StatusTooManyRequests,
			"Resource has been exhausted (e.g. check quota).", "RESOURCE_EXHAUSTED")
	}}
	setupRelay(t, upstream, []string{"sk-a", "sk-b", "sk-c"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 1000, WindowSeconds: 60}},
		map[string]config.KeyRateLimit{"*": {RPM: 10, TPM: 1000}})

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// Quota exhaustion surfaces after a single attempt; burning through the
	// rest of the pool would only exhaust more quotas.
	require.Equal(t, 1, upstream.callCount())
	require.Equal(t, []string{"sk-a"}, upstream.seenKeys())

	// Only the attempted key keeps its booking.
	rpm, _, _ := KeyLimiter.Snapshot("gemini-2.5-pro", "sk-a")
	require.Equal(t, 1, rpm)
	rpm, _, _ = KeyLimiter.Snapshot("gemini-2.5-pro", "sk-b")
	require.Zero(t, rpm)
}

func TestGeminiGenerateSurfacesClientErrorWithoutRotation(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUpstreamError(w, http.StatusForbidden, "API key lacks permission", "PERMISSION_DENIED")
	}}
	setupRelay(t, upstream, []string{"sk-a", "sk-b"}, nil, nil)

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "API key lacks permission")
	require.Equal(t, 1, upstream.callCount())
}

func TestGeminiGenerateReleasesKeyReservationOn503(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUpstreamError(w, http.StatusServiceUnavailable, "overloaded", "UNAVAILABLE")
	}}
	setupRelay(t, upstream, []string{"sk-a"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 1000, WindowSeconds: 60}},
		map[string]config.KeyRateLimit{"*": {RPM: 10, TPM: 1000}})

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	rpm, tpm, rpd := KeyLimiter.Snapshot("gemini-2.5-pro", "sk-a")
	require.Zero(t, rpm)
	require.Zero(t, tpm)
	require.Zero(t, rpd)
	require.Zero(t, ModelLimiter.Usage("gemini-2.5-pro"))
}

func TestGeminiStreamGenerateContent(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]},"index":0}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"totalTokenCount":9}}`+"\n\n")
	}}
	setupRelay(t, upstream, []string{"sk-a"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 1000, WindowSeconds: 60}}, nil)

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:streamGenerateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Contains(t, upstream.seenPaths()[0], "alt=sse")

	body := w.Body.String()
	require.Contains(t, body, `"text":"hel"`)
	require.Contains(t, body, `"text":"lo"`)
	// The native dialect never emits an OpenAI [DONE] terminator.
	require.NotContains(t, body, "[DONE]")

	// Settled against the streamed usage.
	require.Equal(t, 9, ModelLimiter.Usage("gemini-2.5-pro"))
}

func TestGeminiStreamBrokenMidFlightSettlesAsFailure(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]},"index":0}]}`+"\n\n")
		w.(http.Flusher).Flush()
		// Drop the connection before the stream finishes.
		panic(http.ErrAbortHandler)
	}}
	setupRelay(t, upstream, []string{"sk-a"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 1000, WindowSeconds: 60}},
		map[string]config.KeyRateLimit{"*": {RPM: 10, TPM: 1000}})

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:streamGenerateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	// The chunks that made it out are delivered as is; no error body is
	// appended to the truncated stream.
	require.Contains(t, w.Body.String(), `"text":"hel"`)
	require.NotContains(t, w.Body.String(), `"error"`)

	// The attempt settles as a failure: both the key booking and the shared
	// window are released.
	require.Equal(t, 1, upstream.callCount())
	rpm, tpm, rpd := KeyLimiter.Snapshot("gemini-2.5-pro", "sk-a")
	require.Zero(t, rpm)
	require.Zero(t, tpm)
	require.Zero(t, rpd)
	require.Zero(t, ModelLimiter.Usage("gemini-2.5-pro"))
}

func TestGeminiUnknownAction(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:fooBar", `{}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Zero(t, upstream.callCount())
}

func TestGeminiCountTokens(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalTokens": 21}`)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:countTokens",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"totalTokens": 21}`, w.Body.String())
	require.Contains(t, upstream.seenPaths()[0], ":countTokens")
}

func TestOpenAIChatCompletions(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(openaiRouter(), "/v1/chat/completions",
		`{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, upstream.seenPaths()[0], "gemini-2.5-pro:generateContent")
	require.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	require.Equal(t, "chat.completion", resp.Object)
	require.Equal(t, "gemini-2.5-pro", resp.Model)
	require.Equal(t, "hello", resp.Choices[0].Message.Content)
	require.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestOpenAIChatCompletionsStream(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]},"index":0}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"totalTokenCount":9,"candidatesTokenCount":4}}`+"\n\n")
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(openaiRouter(), "/v1/chat/completions",
		`{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, `"object":"chat.completion.chunk"`)
	require.Contains(t, body, `"content":"hel"`)
	require.Contains(t, body, `"finish_reason":"stop"`)
	require.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestOpenAIChatCompletionsStreamBrokenMidFlight(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]},"index":0}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"index":0}]}`+"\n\n")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}}
	setupRelay(t, upstream, []string{"sk-a"},
		map[string]config.TokenWindowLimit{"gemini-2.5-pro": {Limit: 1000, WindowSeconds: 60}},
		map[string]config.KeyRateLimit{"*": {RPM: 10, TPM: 1000}})

	w := postJSON(openaiRouter(), "/v1/chat/completions",
		`{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	body := w.Body.String()
	require.Contains(t, body, `"content":"hel"`)
	// A broken stream never gets the completion terminator.
	require.False(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))

	// The reservation does not stand for an attempt that never completed.
	rpm, tpm, _ := KeyLimiter.Snapshot("gemini-2.5-pro", "sk-a")
	require.Zero(t, rpm)
	require.Zero(t, tpm)
	require.Zero(t, ModelLimiter.Usage("gemini-2.5-pro"))
}

func TestOpenAIChatCompletionsValidation(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(openaiRouter(), "/v1/chat/completions", `{"messages":[]}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Zero(t, upstream.callCount())
}

func TestOpenAIChatCompletionsRejectsNonPositiveMaxTokens(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(openaiRouter(), "/v1/chat/completions",
		`{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}],"max_tokens":-5}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), "max_tokens")
	require.Zero(t, upstream.callCount())
}

func TestGeminiGenerateRejectsNonPositiveMaxOutputTokens(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(nativeRouter(), "/v1beta/models/gemini-2.5-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"generationConfig":{"maxOutputTokens":0}}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "maxOutputTokens")
	require.Zero(t, upstream.callCount())
}

func TestOpenAIEmbeddings(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"embeddings":[{"values":[0.1,0.2]},{"values":[0.3]}]}`)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	w := postJSON(openaiRouter(), "/v1/embeddings",
		`{"model":"text-embedding-004","input":["first","second"]}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, upstream.seenPaths()[0], "text-embedding-004:batchEmbedContents")
	require.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 2)
	require.Equal(t, []float64{0.1, 0.2}, resp.Data[0].Embedding)
	require.Equal(t, "text-embedding-004", resp.Model)
}

func TestOpenAIListModels(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[{"name":"models/gemini-2.5-pro"}]}`)
	}}
	setupRelay(t, upstream, []string{"sk-a"}, nil, nil)

	router := openaiRouter()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)

	// The second fetch is served from cache.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, upstream.callCount())
}

func TestKeyLimiterExhaustedAcrossPool(t *testing.T) {
	upstream := &fakeUpstream{handler: func(call int, w http.ResponseWriter, r *http.Request) {
		writeUnaryResponse(w)
	}}
	setupRelay(t, upstream, []string{"sk-a", "sk-b"}, nil,
		map[string]config.KeyRateLimit{"*": {RPM: 1}})

	router := nativeRouter()
	body := `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`

	// Two requests use up both keys' RPM budgets.
	require.Equal(t, http.StatusOK, postJSON(router, "/v1beta/models/gemini-2.5-pro:generateContent", body).Code)
	require.Equal(t, http.StatusOK, postJSON(router, "/v1beta/models/gemini-2.5-pro:generateContent", body).Code)

	w := postJSON(router, "/v1beta/models/gemini-2.5-pro:generateContent", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Equal(t, 2, upstream.callCount())
}
