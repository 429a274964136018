package repository

import (
	"context"
	"time"

	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/storage"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// Inserts multiple request logs (for batch insertion)
func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []*models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Counts logs in a time range
func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Count logs by status code range (e.g., 4xx, 5xx)
func (r *RequestLogRepository) CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatusCode, maxStatusCode, from, to).
		Count(&count).Error

	return count, err
}

// Calculates average response time
func (r *RequestLogRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(AVG(response_time_ms), 0)").
		Scan(&avg).Error

	return avg, err
}

type RequestLogSummary struct {
	Total         int64   `json:"total"`
	RateLimited   int64   `json:"rate_limited"`
	ServerErrors  int64   `json:"server_errors"`
	AvgResponseMs float64 `json:"avg_response_ms"`
}

// Summarizes the traffic logged between from and to
func (r *RequestLogRepository) Summary(ctx context.Context, from, to time.Time) (*RequestLogSummary, error) {
	var summary RequestLogSummary
	var err error

	if summary.Total, err = r.CountByTimeRange(ctx, from, to); err != nil {
		return nil, err
	}
	if summary.RateLimited, err = r.CountByStatusCodeRange(ctx, 429, 429, from, to); err != nil {
		return nil, err
	}
	if summary.ServerErrors, err = r.CountByStatusCodeRange(ctx, 500, 599, from, to); err != nil {
		return nil, err
	}
	if summary.AvgResponseMs, err = r.GetAverageResponseTime(ctx, from, to); err != nil {
		return nil, err
	}

	return &summary, nil
}

// Deletes logs older than the specified time
func (r *RequestLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}
