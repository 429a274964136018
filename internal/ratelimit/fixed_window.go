package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/observability"
	"github.com/altverseweb3/backend/internal/repository"
	"github.com/altverseweb3/backend/internal/storage"
	"go.uber.org/zap"
)

// windowStore is the record store behind the limiter, implemented by
// repository.RateLimitRepository
type windowStore interface {
	Find(ctx context.Context, clientID string) (*models.RateLimitRecord, error)
	Create(ctx context.Context, clientID string, record models.RateLimitRecord) error
	Replace(ctx context.Context, clientID string, record models.RateLimitRecord, previousStart int64) error
	Consume(ctx context.Context, clientID string) (int64, error)
}

// FixedWindowLimiter grants limit admissions per client per window. Each
// client's credits live in one store record that is created on first use,
// replaced whole when its window has passed and decremented conditionally, so
// concurrent instances never admit more than limit in a window.
type FixedWindowLimiter struct {
	store   windowStore
	limit   int64
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

type Option func(*FixedWindowLimiter)

func WithClock(now func() time.Time) Option {
	return func(f *FixedWindowLimiter) { f.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(f *FixedWindowLimiter) { f.metrics = m }
}

func NewFixedWindow(store *repository.RateLimitRepository, limit int64, window time.Duration, logger *zap.Logger, opts ...Option) *FixedWindowLimiter {
	f := &FixedWindowLimiter{
		store:  store,
		limit:  limit,
		window: window, // Window of time duration
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FixedWindowLimiter) Admit(ctx context.Context, clientID string) Decision {
	now := f.now()

	record, err := f.store.Find(ctx, clientID)
	if err != nil {
		return f.failOpen(clientID, "read", err)
	}

	if record == nil {
		fresh := f.newWindow(clientID, now, f.limit-1)

		err := f.store.Create(ctx, clientID, fresh)
		switch {
		case err == nil:
			return f.allow(fresh.Credits, fresh)
		case errors.Is(err, storage.ErrConditionFailed):
			// A concurrent first request created the record
			return f.consume(ctx, clientID, now, now.Unix())
		default:
			return f.failOpen(clientID, "create", err)
		}
	}

	if now.Sub(record.WindowStart()) >= f.window {
		fresh := f.newWindow(clientID, now, f.limit)

		err := f.store.Replace(ctx, clientID, fresh, record.LastReplenishTime)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrConditionFailed):
			// A concurrent request already opened the new window
		default:
			return f.failOpen(clientID, "replenish", err)
		}

		return f.consume(ctx, clientID, now, fresh.LastReplenishTime)
	}

	if record.Credits <= 0 {
		return f.deny(clientID, record, now)
	}

	return f.consume(ctx, clientID, now, record.LastReplenishTime)
}

// Takes one credit, denying with freshly read state when none is left.
// windowStart is only used to report the reset time of an admission.
func (f *FixedWindowLimiter) consume(ctx context.Context, clientID string, now time.Time, windowStart int64) Decision {
	remaining, err := f.store.Consume(ctx, clientID)
	if err == nil {
		return f.allow(remaining, models.RateLimitRecord{LastReplenishTime: windowStart})
	}
	if !errors.Is(err, storage.ErrConditionFailed) {
		return f.failOpen(clientID, "consume", err)
	}

	record, err := f.store.Find(ctx, clientID)
	if err != nil {
		return f.failOpen(clientID, "reread", err)
	}
	if record == nil {
		// The record expired in between, nothing to wait for
		f.metrics.RecordAdmission("denied")
		return Decision{Limit: f.limit, ResetAt: now.UTC()}
	}

	return f.deny(clientID, record, now)
}

func (f *FixedWindowLimiter) newWindow(clientID string, now time.Time, credits int64) models.RateLimitRecord {
	return models.RateLimitRecord{
		Credits:           credits,
		LastReplenishTime: now.Unix(),
		TTL:               models.NextMidnight(now).Unix(),
		IPAddress:         clientID,
	}
}

func (f *FixedWindowLimiter) allow(remaining int64, record models.RateLimitRecord) Decision {
	f.metrics.RecordAdmission("allowed")

	return Decision{
		Allowed:   true,
		Limit:     f.limit,
		Remaining: remaining,
		ResetAt:   record.WindowEnd(f.window),
	}
}

func (f *FixedWindowLimiter) deny(clientID string, record *models.RateLimitRecord, now time.Time) Decision {
	resetAt := record.WindowEnd(f.window)

	retryAfter := resetAt.Unix() - now.Unix()
	if retryAfter < 0 {
		retryAfter = 0
	}

	f.metrics.RecordAdmission("denied")
	f.logger.Debug("admission denied",
		zap.String("client_id", clientID),
		zap.Int64("retry_after_seconds", retryAfter),
	)

	return Decision{
		Limit:             f.limit,
		ResetAt:           resetAt,
		RetryAfterSeconds: retryAfter,
	}
}

func (f *FixedWindowLimiter) failOpen(clientID, op string, err error) Decision {
	f.metrics.RecordAdmission("fail_open")
	f.logger.Warn("rate limiter store error, allowing request",
		zap.String("client_id", clientID),
		zap.String("op", op),
		zap.Error(err),
	)

	return Decision{Allowed: true, Limit: f.limit, Remaining: -1, FailOpen: true}
}

func (f *FixedWindowLimiter) Limit() int64 {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}
