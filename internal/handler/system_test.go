package handler

import (
	"net/http"
	"testing"

	"github.com/altverseweb3/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystem_Test(t *testing.T) {
	e := setupEnv(t, nil)

	code, body := e.do(t, http.MethodGet, "/test", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Hello from /test", body["message"])
}

func TestSystem_Health(t *testing.T) {
	e := setupEnv(t, nil)

	code, body := e.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": true}, body["checks"])

	e.mr.Close()

	code, body = e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": false}, body["checks"])
}

func TestSystem_Status(t *testing.T) {
	srv := serveProvider(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x1"}`)
	e := setupEnv(t, map[string]config.ProviderConfig{
		"eth-mainnet": {URLs: []string{srv.URL}},
		"base":        {URLs: []string{srv.URL}},
	})

	code, body := e.do(t, http.MethodGet, "/admin/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["gateway"])
	assert.Equal(t, "development", body["environment"])
	assert.Equal(t, []interface{}{"base", "eth-mainnet"}, body["rpc_networks"])
	assert.NotContains(t, body, "requests_24h")

	limits := body["rate_limit"].(map[string]interface{})
	cfg := config.Default()
	assert.Equal(t, float64(cfg.RateLimit.Limit), limits["limit"])
	assert.Equal(t, float64(cfg.RateLimit.BucketSeconds), limits["window_seconds"])

	providers := body["rpc_providers"].(map[string]interface{})
	assert.Contains(t, providers, "eth-mainnet")
}
