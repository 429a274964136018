package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/altverseweb3/backend/internal/config"
	"github.com/altverseweb3/backend/internal/handler"
	"github.com/altverseweb3/backend/internal/middleware"
	"github.com/altverseweb3/backend/internal/observability"
	"github.com/altverseweb3/backend/internal/ratelimit"
	"github.com/altverseweb3/backend/internal/repository"
	"github.com/altverseweb3/backend/internal/rpc"
	"github.com/altverseweb3/backend/internal/service"
	"github.com/altverseweb3/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Server struct {
	router   *gin.Engine
	config   *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres
	logger   *zap.Logger
	metrics  *observability.Metrics

	limiter       ratelimit.Limiter
	rpc           *rpc.Client
	requestLogs   *repository.RequestLogRepository
	requestLogger *middleware.RequestLogger
	retention     *cron.Cron

	metricsHandler   *handler.MetricsHandler
	analyticsHandler *handler.AnalyticsHandler
	rpcHandler       *handler.RPCHandler
	systemHandler    *handler.SystemHandler

	httpServer *http.Server
}

// New wires the gateway. postgres may be nil, which disables request-log
// persistence.
func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, logger *zap.Logger) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Client identity for rate limiting comes from gin's ClientIP
	router := gin.New()
	router.RemoteIPHeaders = []string{"X-Forwarded-For"}
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	metrics := observability.NewMetrics()

	rpcClient, err := rpc.NewClient(cfg.RPC, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build rpc client: %w", err)
	}

	rateLimits := repository.NewRateLimitRepository(redis, cfg.RateLimit.TableName)
	limiter := ratelimit.NewFixedWindow(rateLimits, cfg.RateLimit.Limit, cfg.RateLimit.Window(), logger,
		ratelimit.WithMetrics(metrics),
	)

	metricsRepo := repository.NewMetricsRepository(redis, cfg.Metrics.TableName)
	recorder := service.NewMetricsService(metricsRepo, logger, service.WithMetrics(metrics))
	analytics := service.NewAnalyticsService(metricsRepo)

	s := &Server{
		router:   router,
		config:   cfg,
		redis:    redis,
		postgres: postgres,
		logger:   logger,
		metrics:  metrics,
		limiter:  limiter,
		rpc:      rpcClient,

		metricsHandler:   handler.NewMetricsHandler(recorder),
		analyticsHandler: handler.NewAnalyticsHandler(analytics, metrics),
		rpcHandler:       handler.NewRPCHandler(rpcClient),
	}

	if postgres != nil {
		s.requestLogs = repository.NewRequestLogRepository(postgres)
		s.requestLogger = middleware.NewRequestLogger(s.requestLogs, cfg.RequestLog.BufferSize, logger)

		s.retention, err = newRetentionJob(s.requestLogs, cfg.RequestLog, logger)
		if err != nil {
			return nil, err
		}
	}

	s.systemHandler = handler.NewSystemHandler(cfg, redis, postgres, s.requestLogs, rpcClient, logger)

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.Metrics(s.metrics))
	if s.requestLogger != nil {
		s.router.Use(s.requestLogger.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)

	// Everything else is rate limited first
	api := s.router.Group("/")
	api.Use(middleware.RateLimit(s.limiter))
	api.Use(middleware.APIKey(s.config.Server.APIKey))
	{
		api.GET("/test", s.systemHandler.Test)
		api.POST("/metrics", s.metricsHandler.Record)
		api.POST("/analytics", s.analyticsHandler.Query)
		api.POST("/rpc", s.rpcHandler.Call)
	}

	admin := api.Group("/admin")
	{
		admin.GET("/status", s.systemHandler.Status)
		admin.GET("/prometheus", gin.WrapH(s.metrics.Handler()))
		admin.GET("/circuit-breakers", s.systemHandler.CircuitBreakerStatus)
		admin.POST("/circuit-breakers/:network/reset", s.systemHandler.ResetCircuitBreaker)
	}
}

// Run starts the background workers and serves until Shutdown
func (s *Server) Run(addr string) error {
	s.rpc.Start()
	if s.requestLogger != nil {
		s.requestLogger.Start()
	}
	if s.retention != nil {
		s.retention.Start()
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
		zap.Bool("request_logs", s.requestLogger != nil),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then drains the background workers
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.retention != nil {
		select {
		case <-s.retention.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	if s.requestLogger != nil {
		if err := s.requestLogger.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("request log flush: %w", err))
		}
	}

	s.rpc.Close()

	return errors.Join(errs...)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
