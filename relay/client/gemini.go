package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/Laisky/gemini-balance/common/client"
	"github.com/Laisky/gemini-balance/common/config"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// GeminiClient wraps the upstream generativelanguage API. One instance is
// shared by all handlers; credentials are supplied per call.
type GeminiClient struct {
	baseURL    string
	httpClient *http.Client

	modelCache  *gocache.Cache
	modelsGroup singleflight.Group
}

const modelCacheKey = "upstream_models"

// NewGeminiClient builds a client over the shared outbound HTTP client.
func NewGeminiClient() *GeminiClient {
	return &GeminiClient{
		baseURL:    config.BaseURL,
		httpClient: client.HTTPClient,
		modelCache: gocache.New(10*time.Minute, 30*time.Minute),
	}
}

// modelURL builds {base}/models/{model}:{op}.
func (g *GeminiClient) modelURL(model, op string) string {
	return fmt.Sprintf("%s/models/%s:%s", g.baseURL, model, op)
}

func (g *GeminiClient) newRequest(ctx context.Context, method, url, key string, payload any) (*http.Request, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal upstream payload")
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)
	return req, nil
}

// doJSON performs a unary call and decodes a 2xx response into out.
func (g *GeminiClient) doJSON(ctx context.Context, method, url, key string, payload, out any) *relaymodel.ErrorWithStatusCode {
	req, err := g.newRequest(ctx, method, url, key, payload)
	if err != nil {
		return relaymodel.ErrorWrapper(err, "build_request_failed", http.StatusInternalServerError)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return relaymodel.ErrorWrapper(errors.Wrap(err, "call upstream"), "upstream_unreachable", http.StatusBadGateway)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return RelayErrorHandler(resp)
	}

	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return relaymodel.ErrorWrapper(errors.Wrap(err, "decode upstream response"), "upstream_decode_failed", http.StatusBadGateway)
	}
	return nil
}

// GenerateContent performs a unary generateContent call.
func (g *GeminiClient) GenerateContent(ctx context.Context, model, key string, payload *relaymodel.GeminiRequest) (*relaymodel.GeminiResponse, *relaymodel.ErrorWithStatusCode) {
	var out relaymodel.GeminiResponse
	if errResp := g.doJSON(ctx, http.MethodPost, g.modelURL(model, "generateContent"), key, payload, &out); errResp != nil {
		return nil, errResp
	}
	return &out, nil
}

// StreamGenerateContent opens a streamGenerateContent SSE response. The caller
// owns the returned body and must close it.
func (g *GeminiClient) StreamGenerateContent(ctx context.Context, model, key string, payload *relaymodel.GeminiRequest) (*http.Response, *relaymodel.ErrorWithStatusCode) {
	url := g.modelURL(model, "streamGenerateContent") + "?alt=sse"
	req, err := g.newRequest(ctx, http.MethodPost, url, key, payload)
	if err != nil {
		return nil, relaymodel.ErrorWrapper(err, "build_request_failed", http.StatusInternalServerError)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, relaymodel.ErrorWrapper(errors.Wrap(err, "call upstream"), "upstream_unreachable", http.StatusBadGateway)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, RelayErrorHandler(resp)
	}
	return resp, nil
}

// CountTokens performs a countTokens call.
func (g *GeminiClient) CountTokens(ctx context.Context, model, key string, payload *relaymodel.CountTokensRequest) (*relaymodel.CountTokensResponse, *relaymodel.ErrorWithStatusCode) {
	var out relaymodel.CountTokensResponse
	if errResp := g.doJSON(ctx, http.MethodPost, g.modelURL(model, "countTokens"), key, payload, &out); errResp != nil {
		return nil, errResp
	}
	return &out, nil
}

// EmbedContent performs an embedContent call.
func (g *GeminiClient) EmbedContent(ctx context.Context, model, key string, payload *relaymodel.EmbedContentRequest) (*relaymodel.EmbedContentResponse, *relaymodel.ErrorWithStatusCode) {
	var out relaymodel.EmbedContentResponse
	if errResp := g.doJSON(ctx, http.MethodPost, g.modelURL(model, "embedContent"), key, payload, &out); errResp != nil {
		return nil, errResp
	}
	return &out, nil
}

// BatchEmbedContents performs a batchEmbedContents call.
func (g *GeminiClient) BatchEmbedContents(ctx context.Context, model, key string, payload *relaymodel.BatchEmbedRequest) (*relaymodel.BatchEmbedResponse, *relaymodel.ErrorWithStatusCode) {
	var out relaymodel.BatchEmbedResponse
	if errResp := g.doJSON(ctx, http.MethodPost, g.modelURL(model, "batchEmbedContents"), key, payload, &out); errResp != nil {
		return nil, errResp
	}
	return &out, nil
}

// ListModels fetches the upstream model list. Results are cached and
// concurrent fetches are coalesced, since the list changes rarely and every
// dialect's models endpoint reads it.
func (g *GeminiClient) ListModels(ctx context.Context, key string) (*relaymodel.GeminiModelList, *relaymodel.ErrorWithStatusCode) {
	if cached, ok := g.modelCache.Get(modelCacheKey); ok {
		return cached.(*relaymodel.GeminiModelList), nil
	}

	var fetchErr *relaymodel.ErrorWithStatusCode
	result, err, _ := g.modelsGroup.Do(modelCacheKey, func() (any, error) {
		var out relaymodel.GeminiModelList
		url := fmt.Sprintf("%s/models?pageSize=1000", g.baseURL)
		if errResp := g.doJSON(ctx, http.MethodGet, url, key, nil, &out); errResp != nil {
			fetchErr = errResp
			return nil, errors.Errorf("list models failed with status %d", errResp.StatusCode)
		}
		g.modelCache.Set(modelCacheKey, &out, gocache.DefaultExpiration)
		return &out, nil
	})
	if err != nil {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, relaymodel.ErrorWrapper(err, "list_models_failed", http.StatusBadGateway)
	}
	return result.(*relaymodel.GeminiModelList), nil
}

// VerifyKey checks a credential with a minimal generateContent call against
// the configured test model.
func (g *GeminiClient) VerifyKey(ctx context.Context, key string) error {
	payload := &relaymodel.GeminiRequest{
		Contents: []relaymodel.Content{
			{Role: "user", Parts: []relaymodel.Part{{Text: "hi"}}},
		},
		GenerationConfig: &relaymodel.GenerationConfig{
			MaxOutputTokens: intPtr(8),
		},
	}

	req, err := g.newRequest(ctx, http.MethodPost, g.modelURL(config.TestModel, "generateContent"), key, payload)
	if err != nil {
		return err
	}

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "verify credential")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return errors.Errorf("verification call returned status %d", resp.StatusCode)
	}
	return nil
}

func intPtr(n int) *int { return &n }
