package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/altverseweb3/backend/internal/circuitbreaker"
	"github.com/altverseweb3/backend/internal/config"
	"github.com/altverseweb3/backend/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProvider(t *testing.T, status int, reply string) (*httptest.Server, *atomic.Int64, func() []request) {
	t.Helper()

	var calls atomic.Int64
	var mu sync.Mutex
	var seen []request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		body, _ := io.ReadAll(r.Body)
		var req request
		if err := json.Unmarshal(body, &req); err == nil {
			mu.Lock()
			seen = append(seen, req)
			mu.Unlock()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	requests := func() []request {
		mu.Lock()
		defer mu.Unlock()
		return append([]request(nil), seen...)
	}
	return srv, &calls, requests
}

func newClient(t *testing.T, providers map[string]config.ProviderConfig) (*Client, *observability.Metrics) {
	t.Helper()

	m := observability.NewMetrics()
	c, err := NewClient(config.RPCConfig{TimeoutMs: 2000, Providers: providers}, zap.NewNop(), m)
	require.NoError(t, err)
	return c, m
}

func TestCall_ForwardsEnvelope(t *testing.T) {
	srv, _, requests := newProvider(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`)
	c, m := newClient(t, map[string]config.ProviderConfig{"eth-mainnet": {URLs: []string{srv.URL}}})

	reply, err := c.Call(context.Background(), "eth-mainnet", "eth_getBalance", json.RawMessage(`["0xabc","latest"]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`, string(reply))

	seen := requests()
	require.Len(t, seen, 1)
	assert.Equal(t, "2.0", seen[0].JSONRPC)
	assert.Equal(t, 1, seen[0].ID)
	assert.Equal(t, "eth_getBalance", seen[0].Method)
	assert.JSONEq(t, `["0xabc","latest"]`, string(seen[0].Params))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("eth-mainnet", "ok")))
}

func TestCall_DefaultsParams(t *testing.T) {
	srv, _, requests := newProvider(t, http.StatusOK, `{"result":1}`)
	c, _ := newClient(t, map[string]config.ProviderConfig{"sui": {URLs: []string{srv.URL}}})

	_, err := c.Call(context.Background(), "sui", "sui_getLatestCheckpointSequenceNumber", nil)
	require.NoError(t, err)
	require.Len(t, requests(), 1)
	assert.JSONEq(t, `[]`, string(requests()[0].Params))
}

func TestCall_UnknownNetwork(t *testing.T) {
	c, _ := newClient(t, nil)

	_, err := c.Call(context.Background(), "solana", "getSlot", nil)
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestCall_ProviderFailureOpensCircuit(t *testing.T) {
	srv, calls, _ := newProvider(t, http.StatusBadGateway, `oops`)
	c, m := newClient(t, map[string]config.ProviderConfig{
		"eth-mainnet": {
			URLs:           []string{srv.URL},
			CircuitBreaker: config.CircuitBreakerConfig{MaxFailures: 2, TimeoutSeconds: 60},
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Call(ctx, "eth-mainnet", "eth_blockNumber", nil)
		assert.ErrorIs(t, err, ErrUpstream)
	}

	_, err := c.Call(ctx, "eth-mainnet", "eth_blockNumber", nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, c.Breakers()["eth-mainnet"].State)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("eth-mainnet", "circuit_open")))

	assert.True(t, c.ResetBreaker("eth-mainnet"))
	assert.False(t, c.ResetBreaker("solana"))
	assert.Equal(t, circuitbreaker.StateClosed, c.Breakers()["eth-mainnet"].State)
}

func TestCall_NonJSONReply(t *testing.T) {
	srv, _, _ := newProvider(t, http.StatusOK, `<html>`)
	c, _ := newClient(t, map[string]config.ProviderConfig{"eth-mainnet": {URLs: []string{srv.URL}}})

	_, err := c.Call(context.Background(), "eth-mainnet", "eth_blockNumber", nil)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCall_BalancesAcrossProviders(t *testing.T) {
	a, aCalls, _ := newProvider(t, http.StatusOK, `{"result":"a"}`)
	b, bCalls, _ := newProvider(t, http.StatusOK, `{"result":"b"}`)
	c, _ := newClient(t, map[string]config.ProviderConfig{
		"polygon-mainnet": {URLs: []string{a.URL, b.URL}, Strategy: "round_robin"},
	})

	for i := 0; i < 4; i++ {
		_, err := c.Call(context.Background(), "polygon-mainnet", "eth_chainId", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), aCalls.Load())
	assert.Equal(t, int64(2), bCalls.Load())
}

func TestCall_ThrottleHonoursContext(t *testing.T) {
	srv, _, _ := newProvider(t, http.StatusOK, `{"result":1}`)
	c, _ := newClient(t, map[string]config.ProviderConfig{
		"eth-mainnet": {URLs: []string{srv.URL}, RequestsPerSecond: 0.001, Burst: 1},
	})

	_, err := c.Call(context.Background(), "eth-mainnet", "eth_chainId", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Call(ctx, "eth-mainnet", "eth_chainId", nil)
	assert.Error(t, err)
}

func TestNewClient_RejectsUnknownStrategy(t *testing.T) {
	_, err := NewClient(config.RPCConfig{
		TimeoutMs: 1000,
		Providers: map[string]config.ProviderConfig{"eth": {URLs: []string{"http://x"}, Strategy: "weighted"}},
	}, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestNetworks(t *testing.T) {
	c, _ := newClient(t, map[string]config.ProviderConfig{
		"sui":         {URLs: []string{"http://sui"}},
		"eth-mainnet": {URLs: []string{"http://eth"}},
	})
	assert.Equal(t, []string{"eth-mainnet", "sui"}, c.Networks())
}

func TestCall_SkipsUnhealthyProvider(t *testing.T) {
	bad, badCalls, _ := newProvider(t, http.StatusServiceUnavailable, `{}`)
	good, goodCalls, _ := newProvider(t, http.StatusOK, `{"result":"ok"}`)
	c, _ := newClient(t, map[string]config.ProviderConfig{
		"eth-mainnet": {
			URLs:           []string{bad.URL, good.URL},
			CircuitBreaker: config.CircuitBreakerConfig{MaxFailures: 100},
			HealthCheck:    config.HealthCheckConfig{MaxFailures: 1},
		},
	})
	ctx := context.Background()

	_, err := c.Call(ctx, "eth-mainnet", "eth_chainId", nil)
	assert.ErrorIs(t, err, ErrUpstream)

	for i := 0; i < 3; i++ {
		_, err := c.Call(ctx, "eth-mainnet", "eth_chainId", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), badCalls.Load())
	assert.Equal(t, int64(3), goodCalls.Load())

	health := c.Health()["eth-mainnet"]
	assert.Equal(t, "degraded", health.Overall.String())
	require.Len(t, health.Providers, 2)
	assert.False(t, health.Providers[0].IsHealthy)
}

func TestStart_ProbesProviders(t *testing.T) {
	srv, calls, requests := newProvider(t, http.StatusOK, `{"result":"geth"}`)
	c, _ := newClient(t, map[string]config.ProviderConfig{
		"eth-mainnet": {
			URLs:        []string{srv.URL},
			HealthCheck: config.HealthCheckConfig{ProbeMethod: "web3_clientVersion", IntervalSeconds: 3600},
		},
	})

	c.Start()
	defer c.Close()

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "web3_clientVersion", requests()[0].Method)
}
