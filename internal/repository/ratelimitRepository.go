package repository

import (
	"context"
	"errors"
	"time"

	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/storage"
)

type RateLimitRepository struct {
	table *storage.Table
}

func NewRateLimitRepository(redis *storage.RedisClient, tableName string) *RateLimitRepository {
	return &RateLimitRepository{table: redis.Table(tableName)}
}

// Strongly consistent read of a client's record, nil when the client is new
func (r *RateLimitRepository) Find(ctx context.Context, clientID string) (*models.RateLimitRecord, error) {
	var record models.RateLimitRecord
	err := r.table.GetItem(ctx, storage.ItemKey{PK: clientID}, true, &record)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Creates the record only if the client has none yet. Returns
// storage.ErrConditionFailed when another request created it first.
func (r *RateLimitRepository) Create(ctx context.Context, clientID string, record models.RateLimitRecord) error {
	return r.table.PutItem(ctx, storage.ItemKey{PK: clientID}, record.Fields(),
		storage.IfNotExists(),
		storage.ExpireAt(time.Unix(record.TTL, 0)),
	)
}

// Replaces the whole record, provided its window still starts at
// previousStart. Returns storage.ErrConditionFailed when another request
// already opened a new window.
func (r *RateLimitRepository) Replace(ctx context.Context, clientID string, record models.RateLimitRecord, previousStart int64) error {
	return r.table.PutItem(ctx, storage.ItemKey{PK: clientID}, record.Fields(),
		storage.IfEquals(models.FieldLastReplenishTime, previousStart),
		storage.ExpireAt(time.Unix(record.TTL, 0)),
	)
}

// Takes one credit while credits > 0 and returns what is left. Returns
// storage.ErrConditionFailed when no credit remains.
func (r *RateLimitRepository) Consume(ctx context.Context, clientID string) (int64, error) {
	values, err := r.table.UpdateItem(ctx, storage.ItemKey{PK: clientID},
		map[string]int64{models.FieldCredits: -1},
		storage.IfGreaterThan(models.FieldCredits, 0),
	)
	if err != nil {
		return 0, err
	}

	return values[models.FieldCredits], nil
}
