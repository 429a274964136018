package server

import (
	"context"
	"fmt"
	"time"

	"github.com/altverseweb3/backend/internal/config"
	"github.com/altverseweb3/backend/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const pruneTimeout = 5 * time.Minute

// Schedules deletion of request logs older than the retention period
func newRetentionJob(logs *repository.RequestLogRepository, cfg config.RequestLogConfig, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	_, err := c.AddFunc(cfg.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()

		pruneRequestLogs(ctx, logs, time.Now().Add(-retention), logger)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule request log cleanup %q: %w", cfg.CleanupSchedule, err)
	}

	return c, nil
}

func pruneRequestLogs(ctx context.Context, logs *repository.RequestLogRepository, before time.Time, logger *zap.Logger) {
	deleted, err := logs.DeleteOldLogs(ctx, before)
	if err != nil {
		logger.Error("request log cleanup failed", zap.Error(err))
		return
	}

	logger.Info("request log cleanup completed",
		zap.Int64("deleted", deleted),
		zap.Time("before", before),
	)
}
