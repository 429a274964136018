package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/altverseweb3/backend/internal/circuitbreaker"
	"github.com/altverseweb3/backend/internal/config"
	"github.com/altverseweb3/backend/internal/healthcheck"
	"github.com/altverseweb3/backend/internal/loadbalancer"
	"github.com/altverseweb3/backend/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrUnknownNetwork is returned for a network without configured providers
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrUpstream wraps transport failures and 5xx replies from a provider
	ErrUpstream = errors.New("rpc provider failed")
)

// Caps provider replies
const maxResponseBytes = 10 << 20

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type network struct {
	name     string
	urls     []string
	strategy loadbalancer.Strategy
	breaker  *circuitbreaker.CircuitBreaker
	limiter  *rate.Limiter
	health   *healthcheck.Checker
}

// Health of one network's providers, as reported by the admin API
type NetworkHealth struct {
	Overall   healthcheck.HealthStatus `json:"overall"`
	Providers []healthcheck.Status     `json:"providers"`
}

// Client forwards JSON-RPC calls to the providers of a network. Each network
// is balanced across its URLs, throttled to its provider quota and guarded by
// its own circuit breaker.
type Client struct {
	http     *http.Client
	networks map[string]*network
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewClient(cfg config.RPCConfig, logger *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	c := &Client{
		http:     &http.Client{Timeout: cfg.Timeout()},
		networks: make(map[string]*network, len(cfg.Providers)),
		logger:   logger,
		metrics:  metrics,
	}

	for name, p := range cfg.Providers {
		strategy, err := loadbalancer.NewStrategy(p.Strategy)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}

		limit := rate.Inf
		if p.RequestsPerSecond > 0 {
			limit = rate.Limit(p.RequestsPerSecond)
		}
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}

		hc := healthcheck.Config{
			Targets:     p.URLs,
			MaxFailures: p.HealthCheck.MaxFailures,
			Interval:    time.Duration(p.HealthCheck.IntervalSeconds) * time.Second,
			Timeout:     cfg.Timeout(),
			Logger:      logger,
		}
		if p.HealthCheck.ProbeMethod != "" {
			hc.Probe = c.prober(p.HealthCheck.ProbeMethod)
		}

		c.networks[name] = &network{
			name:     name,
			urls:     p.URLs,
			strategy: strategy,
			limiter:  rate.NewLimiter(limit, burst),
			health:   healthcheck.NewChecker(name, hc),
			breaker: circuitbreaker.New(name, circuitbreaker.Config{
				MaxFailures:     p.CircuitBreaker.MaxFailures,
				Timeout:         time.Duration(p.CircuitBreaker.TimeoutSeconds) * time.Second,
				HalfOpenSuccess: p.CircuitBreaker.HalfOpenSuccess,
				OnStateChange:   c.logStateChange,
			}),
		}
	}

	return c, nil
}

// Starts the provider probes
func (c *Client) Start() {
	for _, n := range c.networks {
		n.health.Start()
	}
}

// Stops the provider probes
func (c *Client) Close() {
	for _, n := range c.networks {
		n.health.Stop()
	}
}

func (c *Client) prober(method string) healthcheck.ProbeFunc {
	body, _ := json.Marshal(request{JSONRPC: "2.0", ID: 1, Method: method, Params: json.RawMessage("[]")})

	return func(ctx context.Context, target string) error {
		_, err := c.send(ctx, target, body)
		return err
	}
}

func (c *Client) logStateChange(name string, from, to circuitbreaker.State) {
	c.logger.Warn("rpc circuit breaker state changed",
		zap.String("network", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Call sends {"jsonrpc":"2.0","id":1,method,params} to one provider of the
// network and returns the provider's JSON reply as is
func (c *Client) Call(ctx context.Context, networkName, method string, params json.RawMessage) (json.RawMessage, error) {
	n, ok := c.networks[networkName]
	if !ok {
		c.metrics.RecordRPC(networkName, "unknown_network")
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, networkName)
	}

	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	if err := n.limiter.Wait(ctx); err != nil {
		c.metrics.RecordRPC(networkName, "throttled")
		return nil, fmt.Errorf("rpc rate limit wait: %w", err)
	}

	var reply json.RawMessage
	err = n.breaker.Call(func() error {
		var callErr error
		reply, callErr = c.post(ctx, n, body)
		return callErr
	})

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		c.metrics.RecordRPC(networkName, "circuit_open")
	case err != nil:
		c.metrics.RecordRPC(networkName, "error")
		c.logger.Error("rpc call failed",
			zap.String("network", networkName),
			zap.String("method", method),
			zap.Error(err),
		)
	default:
		c.metrics.RecordRPC(networkName, "ok")
	}

	return reply, err
}

// Sends body to a healthy provider, any provider when none is healthy
func (c *Client) post(ctx context.Context, n *network, body []byte) (json.RawMessage, error) {
	targets := n.health.HealthyTargets()
	if len(targets) == 0 {
		targets = n.urls
	}

	target := n.strategy.Next(targets)
	if tracker, ok := n.strategy.(loadbalancer.Tracker); ok {
		tracker.Acquire(target)
		defer tracker.Release(target)
	}

	reply, err := c.send(ctx, target, body)
	if err != nil {
		n.health.RecordFailure(target)
		return nil, err
	}

	n.health.RecordSuccess(target)
	return reply, nil
}

func (c *Client) send(ctx context.Context, target string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %v", ErrUpstream, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: reply is not JSON", ErrUpstream)
	}

	return raw, nil
}

// Configured network names, sorted
func (c *Client) Networks() []string {
	names := make([]string, 0, len(c.networks))
	for name := range c.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Returns a snapshot of every network's circuit breaker
func (c *Client) Breakers() map[string]circuitbreaker.Metrics {
	out := make(map[string]circuitbreaker.Metrics, len(c.networks))
	for name, n := range c.networks {
		out[name] = n.breaker.Metrics()
	}
	return out
}

// Returns the provider health of every network
func (c *Client) Health() map[string]NetworkHealth {
	out := make(map[string]NetworkHealth, len(c.networks))
	for name, n := range c.networks {
		out[name] = NetworkHealth{Overall: n.health.OverallHealth(), Providers: n.health.AllStatus()}
	}
	return out
}

// Closes the network's circuit breaker, false when the network is unknown
func (c *Client) ResetBreaker(networkName string) bool {
	n, ok := c.networks[networkName]
	if !ok {
		return false
	}

	n.breaker.Reset()
	c.logger.Info("rpc circuit breaker reset", zap.String("network", networkName))
	return true
}
