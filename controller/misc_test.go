package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	relaycontroller "github.com/Laisky/gemini-balance/relay/controller"
	"github.com/Laisky/gemini-balance/relay/keypool"
)

func withKeyPool(t *testing.T, keys []string, maxFailures int) *keypool.Pool {
	t.Helper()
	prev := relaycontroller.KeyPool
	pool := keypool.NewPool(keys, maxFailures)
	relaycontroller.KeyPool = pool
	t.Cleanup(func() { relaycontroller.KeyPool = prev })
	return pool
}

func getJSON(t *testing.T, handler gin.HandlerFunc, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET(path, handler)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthOK(t *testing.T) {
	withKeyPool(t, []string{"sk-a", "sk-b"}, 3)

	w, body := getJSON(t, Health, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, float64(2), body["total_keys"])
	require.Equal(t, float64(2), body["valid_keys"])
}

func TestHealthDegradedWithoutValidKeys(t *testing.T) {
	pool := withKeyPool(t, []string{"sk-a"}, 1)
	pool.HandleAPIFailure("sk-a")

	w, body := getJSON(t, Health, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, float64(0), body["valid_keys"])
}

func TestGetKeyStatus(t *testing.T) {
	pool := withKeyPool(t, []string{"sk-aaaaaaaaaaaaaaaa", "sk-bbbbbbbbbbbbbbbb"}, 1)
	pool.HandleAPIFailure("sk-bbbbbbbbbbbbbbbb")

	w, body := getJSON(t, GetKeyStatus, "/api/keys")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), body["total"])
	require.Equal(t, float64(1), body["valid"])
	require.Equal(t, float64(1), body["invalid"])

	keys := body["keys"].([]any)
	require.Len(t, keys, 2)
	first := keys[0].(map[string]any)
	// Raw credentials never leave the process.
	require.NotContains(t, first["key"], "aaaaaaaaaaaa")
}
