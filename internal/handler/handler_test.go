package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/altverseweb3/backend/internal/config"
	"github.com/altverseweb3/backend/internal/observability"
	"github.com/altverseweb3/backend/internal/repository"
	"github.com/altverseweb3/backend/internal/rpc"
	"github.com/altverseweb3/backend/internal/service"
	"github.com/altverseweb3/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	mr      *miniredis.Miniredis
	redis   *storage.RedisClient
	metrics *observability.Metrics
	router  *gin.Engine
}

func setupEnv(t *testing.T, providers map[string]config.ProviderConfig) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(mr.Addr(), "", 0, storage.WithTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	m := observability.NewMetrics()
	repo := repository.NewMetricsRepository(client, "metrics")
	recorder := service.NewMetricsService(repo, zap.NewNop(), service.WithMetrics(m))
	analytics := service.NewAnalyticsService(repo)

	rpcClient, err := rpc.NewClient(config.RPCConfig{TimeoutMs: 2000, Providers: providers}, zap.NewNop(), m)
	require.NoError(t, err)

	cfg := config.Default()
	system := NewSystemHandler(cfg, client, nil, nil, rpcClient, zap.NewNop())

	r := gin.New()
	r.GET("/health", system.Health)
	r.GET("/test", system.Test)
	r.POST("/metrics", NewMetricsHandler(recorder).Record)
	r.POST("/analytics", NewAnalyticsHandler(analytics, m).Query)
	r.POST("/rpc", NewRPCHandler(rpcClient).Call)
	r.GET("/admin/status", system.Status)
	r.GET("/admin/circuit-breakers", system.CircuitBreakerStatus)
	r.POST("/admin/circuit-breakers/:network/reset", system.ResetCircuitBreaker)

	return &env{mr: mr, redis: client, metrics: m, router: r}
}

func (e *env) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:4711"

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (e *env) raw(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func swapEvent(user, tx string) map[string]interface{} {
	return map[string]interface{}{
		"eventType": "swap",
		"payload": map[string]interface{}{
			"user_address":              user,
			"tx_hash":                   tx,
			"protocol":                  "altverse",
			"swap_provider":             "mayan",
			"source_chain":              "eth",
			"source_token_address":      "0xsrc",
			"source_token_symbol":       "USDC",
			"amount_in":                 "100",
			"destination_chain":         "arb",
			"destination_token_address": "0xdst",
			"destination_token_symbol":  "USDC",
			"amount_out":                "99.9",
			"timestamp":                 time.Now().Unix(),
		},
	}
}

func serveProvider(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}
