package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Redis      RedisConfig      `json:"redis"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Metrics    MetricsConfig    `json:"metrics"`
	RequestLog RequestLogConfig `json:"request_log"`
	Log        LogConfig        `json:"log"`
	RPC        RPCConfig        `json:"rpc"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`

	// Static key required in x-api-key; empty disables the check
	APIKey string `json:"api_key"`

	// Proxies (IPs or CIDRs) whose X-Forwarded-For is believed. Requests
	// from anywhere else are identified by their connection address.
	TrustedProxies []string `json:"trusted_proxies"`
}

type RedisConfig struct {
	Host        string `json:"host"`
	Port        string `json:"port"`
	Password    string `json:"password"`
	DB          int    `json:"db"`
	ReplicaAddr string `json:"replica_addr"`
	TimeoutMs   int    `json:"timeout_ms"`
}

func (r RedisConfig) GetRedisAddr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

func (r RedisConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

type RateLimitConfig struct {
	Limit         int64  `json:"limit"`
	BucketSeconds int64  `json:"bucket_seconds"`
	TableName     string `json:"table_name"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.BucketSeconds) * time.Second
}

type MetricsConfig struct {
	TableName string `json:"table_name"`
}

// Request logs are persisted only when DatabaseURL is set
type RequestLogConfig struct {
	DatabaseURL     string `json:"database_url"`
	BufferSize      int    `json:"buffer_size"`
	RetentionDays   int    `json:"retention_days"`
	CleanupSchedule string `json:"cleanup_schedule"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
}

func (r RequestLogConfig) Enabled() bool {
	return r.DatabaseURL != ""
}

type LogConfig struct {
	Level string `json:"level"`
}

type RPCConfig struct {
	TimeoutMs int                       `json:"timeout_ms"`
	Providers map[string]ProviderConfig `json:"providers"`
}

func (r RPCConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// ProviderConfig lists the upstream JSON-RPC endpoints of one network
type ProviderConfig struct {
	URLs              []string             `json:"urls"`
	Strategy          string               `json:"strategy"`
	RequestsPerSecond float64              `json:"requests_per_second"`
	Burst             int                  `json:"burst"`
	CircuitBreaker    CircuitBreakerConfig `json:"circuit_breaker"`
	HealthCheck       HealthCheckConfig    `json:"health_check"`
}

// Providers are probed with ProbeMethod when it is set. Failed calls mark a
// provider unhealthy either way.
type HealthCheckConfig struct {
	ProbeMethod     string `json:"probe_method"`
	IntervalSeconds int    `json:"interval_seconds"`
	MaxFailures     int    `json:"max_failures"`
}

type CircuitBreakerConfig struct {
	MaxFailures     int `json:"max_failures"`
	TimeoutSeconds  int `json:"timeout_seconds"`
	HalfOpenSuccess int `json:"half_open_success"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
			TrustedProxies: []string{
				"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
				"::1/128", "fc00::/7",
			},
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      "6379",
			TimeoutMs: 2000,
		},
		RateLimit: RateLimitConfig{
			Limit:         5000,
			BucketSeconds: 300,
			TableName:     "api_rate_limits",
		},
		Metrics: MetricsConfig{
			TableName: "metrics",
		},
		RequestLog: RequestLogConfig{
			BufferSize:      1000,
			RetentionDays:   30,
			CleanupSchedule: "@daily",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
		},
		Log: LogConfig{
			Level: "info",
		},
		RPC: RPCConfig{
			TimeoutMs: 10000,
		},
	}
}

// Load applies, in order, the defaults, the JSON file at path (skipped when
// it does not exist) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Environment = getEnv("ENVIRONMENT", c.Server.Environment)
	c.Server.APIKey = getEnv("API_KEY", c.Server.APIKey)
	c.Server.TrustedProxies = getEnvList("TRUSTED_PROXIES", c.Server.TrustedProxies)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.ReplicaAddr = getEnv("REDIS_REPLICA_ADDR", c.Redis.ReplicaAddr)
	c.Redis.TimeoutMs = getEnvInt("STORE_TIMEOUT_MS", c.Redis.TimeoutMs)

	c.RateLimit.Limit = getEnvInt64("RATE_LIMIT", c.RateLimit.Limit)
	c.RateLimit.BucketSeconds = getEnvInt64("RATE_LIMIT_BUCKET_SECONDS", c.RateLimit.BucketSeconds)
	c.RateLimit.TableName = getEnv("RATE_LIMIT_TABLE_NAME", c.RateLimit.TableName)

	c.Metrics.TableName = getEnv("METRICS_TABLE_NAME", c.Metrics.TableName)

	c.RequestLog.DatabaseURL = getEnv("DATABASE_URL", c.RequestLog.DatabaseURL)
	c.RequestLog.BufferSize = getEnvInt("REQUEST_LOG_BUFFER", c.RequestLog.BufferSize)
	c.RequestLog.RetentionDays = getEnvInt("REQUEST_LOG_RETENTION_DAYS", c.RequestLog.RetentionDays)
	c.RequestLog.CleanupSchedule = getEnv("REQUEST_LOG_CLEANUP_SCHEDULE", c.RequestLog.CleanupSchedule)
	c.RequestLog.MaxOpenConns = getEnvInt("REQUEST_LOG_MAX_OPEN_CONNS", c.RequestLog.MaxOpenConns)
	c.RequestLog.MaxIdleConns = getEnvInt("REQUEST_LOG_MAX_IDLE_CONNS", c.RequestLog.MaxIdleConns)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	c.RPC.TimeoutMs = getEnvInt("RPC_TIMEOUT_MS", c.RPC.TimeoutMs)
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}
	if c.Redis.Host == "" || c.Redis.Port == "" {
		return fmt.Errorf("redis host and port are required")
	}
	if c.Redis.TimeoutMs <= 0 {
		return fmt.Errorf("store timeout must be positive, got %dms", c.Redis.TimeoutMs)
	}

	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate limit must be at least 1, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.BucketSeconds < 1 {
		return fmt.Errorf("rate limit bucket must be at least 1 second, got %d", c.RateLimit.BucketSeconds)
	}
	if strings.TrimSpace(c.RateLimit.TableName) == "" {
		return fmt.Errorf("rate limit table name is required")
	}
	if strings.TrimSpace(c.Metrics.TableName) == "" {
		return fmt.Errorf("metrics table name is required")
	}
	if c.RateLimit.TableName == c.Metrics.TableName {
		return fmt.Errorf("rate limit and metrics tables must differ")
	}

	if c.RequestLog.Enabled() {
		if c.RequestLog.BufferSize < 1 {
			return fmt.Errorf("request log buffer must be at least 1")
		}
		if c.RequestLog.RetentionDays < 1 {
			return fmt.Errorf("request log retention must be at least 1 day")
		}
		if c.RequestLog.MaxOpenConns < 1 || c.RequestLog.MaxIdleConns < 0 {
			return fmt.Errorf("request log pool sizes must be positive")
		}
		if _, err := cron.ParseStandard(c.RequestLog.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid request log cleanup schedule %q: %w", c.RequestLog.CleanupSchedule, err)
		}
	}

	if c.RPC.TimeoutMs <= 0 {
		return fmt.Errorf("rpc timeout must be positive")
	}
	for network, p := range c.RPC.Providers {
		if len(p.URLs) == 0 {
			return fmt.Errorf("rpc network %s has no provider urls", network)
		}
		if p.RequestsPerSecond < 0 || p.Burst < 0 {
			return fmt.Errorf("rpc network %s has a negative rate", network)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Comma-separated; blank entries are dropped
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}
