package handler

import (
	"net/http"
	"time"

	"github.com/altverseweb3/backend/internal/config"
	"github.com/altverseweb3/backend/internal/repository"
	"github.com/altverseweb3/backend/internal/rpc"
	"github.com/altverseweb3/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handles health, status and circuit breaker endpoints
type SystemHandler struct {
	cfg      *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres
	logs     *repository.RequestLogRepository
	rpc      *rpc.Client
	logger   *zap.Logger
	started  time.Time
}

// postgres and logs are nil when request-log persistence is disabled
func NewSystemHandler(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, logs *repository.RequestLogRepository, rpcClient *rpc.Client, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		cfg:      cfg,
		redis:    redis,
		postgres: postgres,
		logs:     logs,
		rpc:      rpcClient,
		logger:   logger,
		started:  time.Now(),
	}
}

// Handles GET /test
func (h *SystemHandler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Hello from /test"})
}

// Handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	redisHealthy := true
	if err := h.redis.Ping(ctx); err != nil {
		redisHealthy = false
		h.logger.Warn("redis health check failed", zap.Error(err))
	}
	checks["redis"] = redisHealthy
	healthy = healthy && redisHealthy

	if h.postgres != nil {
		dbHealthy := true
		if err := h.postgres.Ping(ctx); err != nil {
			dbHealthy = false
			h.logger.Warn("database health check failed", zap.Error(err))
		}
		checks["database"] = dbHealthy
		healthy = healthy && dbHealthy
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// Handles GET /admin/status
func (h *SystemHandler) Status(c *gin.Context) {
	resp := gin.H{
		"gateway":     "running",
		"environment": h.cfg.Server.Environment,
		"uptime":      time.Since(h.started).Seconds(),
		"timestamp":   time.Now().Unix(),
		"rate_limit": gin.H{
			"limit":          h.cfg.RateLimit.Limit,
			"window_seconds": h.cfg.RateLimit.BucketSeconds,
		},
		"rpc_networks":  h.rpc.Networks(),
		"rpc_providers": h.rpc.Health(),
	}

	if h.logs != nil {
		to := time.Now()
		summary, err := h.logs.Summary(c.Request.Context(), to.Add(-24*time.Hour), to)
		if err != nil {
			h.logger.Warn("failed to summarize request logs", zap.Error(err))
		} else {
			resp["requests_24h"] = summary
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Handles GET /admin/circuit-breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.rpc.Breakers())
}

// Handles POST /admin/circuit-breakers/:network/reset
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	network := c.Param("network")

	if !h.rpc.ResetBreaker(network) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Network not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"network": network,
	})
}
