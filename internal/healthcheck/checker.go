package healthcheck

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProbeFunc checks one target, a nil error means healthy
type ProbeFunc func(ctx context.Context, target string) error

// Checker tracks the health of a set of provider URLs. Outcomes are fed by
// the callers through RecordSuccess and RecordFailure, and, when a probe is
// configured, by periodic probes of every target.
type Checker struct {
	name string

	mu           sync.RWMutex
	targets      []string
	healthStatus map[string]*Status
	maxFailures  int

	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration

	now    func() time.Time
	logger *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Config struct {
	Targets     []string
	MaxFailures int // Consecutive failures before a target is unhealthy (default: 3)

	// Optional active probing
	Probe    ProbeFunc
	Interval time.Duration // default: 30s
	Timeout  time.Duration // default: 5s

	Now    func() time.Time
	Logger *zap.Logger
}

func NewChecker(name string, cfg Config) *Checker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Checker{
		name:         name,
		targets:      append([]string(nil), cfg.Targets...),
		healthStatus: make(map[string]*Status, len(cfg.Targets)),
		maxFailures:  cfg.MaxFailures,
		probe:        cfg.Probe,
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		now:          cfg.Now,
		logger:       cfg.Logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	// Targets start healthy
	for _, target := range cfg.Targets {
		c.healthStatus[target] = &Status{Target: target, IsHealthy: true}
	}

	return c
}

// Start probes every target now and then every interval until Stop. It is
// a no-op without a probe.
func (c *Checker) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	if c.probe == nil {
		close(c.done)
		return
	}

	c.checkAll()

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stops probing and waits for an in-flight round to finish
func (c *Checker) Stop() {
	if !c.started.Load() {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()

			if err := c.probe(ctx, t); err != nil {
				c.RecordFailure(t)
				return
			}
			c.RecordSuccess(t)
		}(target)
	}

	wg.Wait()
}

func (c *Checker) RecordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.healthStatus[target]
	if !ok {
		return
	}

	now := c.now()
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0

	if !status.IsHealthy {
		status.IsHealthy = true
		c.logger.Info("rpc provider is healthy again",
			zap.String("network", c.name),
			zap.String("target", target),
		)
	}
}

func (c *Checker) RecordFailure(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.healthStatus[target]
	if !ok {
		return
	}

	now := c.now()
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		status.IsHealthy = false
		c.logger.Warn("rpc provider is unhealthy",
			zap.String("network", c.name),
			zap.String("target", target),
			zap.Int("failures", status.FailureCount),
		)
	}
}

// Returns the healthy targets in configuration order
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.healthStatus[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}

	return healthy
}

// Returns a copy of every target's status
func (c *Checker) AllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.targets))
	for _, target := range c.targets {
		out = append(out, *c.healthStatus[target])
	}
	return out
}

func (c *Checker) OverallHealth() HealthStatus {
	healthy := len(c.HealthyTargets())

	switch {
	case healthy == 0:
		return Unhealthy
	case healthy < len(c.targets):
		return Degraded
	default:
		return Healthy
	}
}
