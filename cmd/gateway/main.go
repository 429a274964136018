package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/altverseweb3/backend/internal/config"
	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/observability"
	"github.com/altverseweb3/backend/internal/server"
	"github.com/altverseweb3/backend/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Server.Environment, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	redis, err := storage.NewRedis(
		cfg.Redis.GetRedisAddr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		storage.WithReplica(cfg.Redis.ReplicaAddr, cfg.Redis.Password, cfg.Redis.DB),
		storage.WithTimeout(cfg.Redis.Timeout()),
	)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	logger.Info("connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))

	var postgres *storage.Postgres
	if cfg.RequestLog.Enabled() {
		postgres, err = storage.NewPostgres(cfg.RequestLog.DatabaseURL,
			storage.WithPool(cfg.RequestLog.MaxIdleConns, cfg.RequestLog.MaxOpenConns),
			storage.WithMigration(&models.RequestLog{}),
		)
		if err != nil {
			logger.Fatal("failed to connect to request log database", zap.Error(err))
		}
		defer postgres.Close()

		logger.Info("request logging enabled",
			zap.Int("retention_days", cfg.RequestLog.RetentionDays),
			zap.String("cleanup_schedule", cfg.RequestLog.CleanupSchedule),
		)
	}

	srv, err := server.New(cfg, redis, postgres, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
