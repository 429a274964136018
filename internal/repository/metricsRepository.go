package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/periods"
	"github.com/altverseweb3/backend/internal/storage"
)

// Activity is everything one user event changes. It is built from the user's
// state as read inside the recording transaction.
type Activity struct {
	Spec      models.EventSpec
	User      string
	IPAddress string
	At        time.Time
	Periods   periods.Set

	// Audit record, stored under USER#<user> / RecordSK
	RecordSK string
	Record   map[string]interface{}

	Breakdown models.BreakdownKey

	NewUser bool

	// 1 for each rollup in which this is the user's first action
	Active map[periods.Type]int64
}

type MetricsRepository struct {
	table *storage.Table
}

func NewMetricsRepository(redis *storage.RedisClient, tableName string) *MetricsRepository {
	return &MetricsRepository{table: redis.Table(tableName)}
}

func userStatsKey(user string) storage.ItemKey {
	return storage.ItemKey{PK: models.UserPK(user), SK: models.StatsSK}
}

func generalKey(scope models.Scope) storage.ItemKey {
	return storage.ItemKey{PK: scope.String(), SK: models.GeneralSK}
}

func weeklyEntryKey(isoWeek, user string) storage.ItemKey {
	return storage.ItemKey{PK: models.LeaderboardPK(isoWeek), SK: models.LeaderboardSK(user)}
}

// RecordActivity reads the user's stats and commits the activity that plan
// derives from them in one transaction. existing is nil for a user without a
// record; in that case the read stays guarded and a concurrent first event for
// the same user makes this call fail with storage.ErrConditionFailed.
func (r *MetricsRepository) RecordActivity(ctx context.Context, user string, plan func(existing *models.UserStats) (*Activity, error)) error {
	return r.table.TransactGuarded(ctx, userStatsKey(user), func(ctx context.Context, g *storage.Guard) (*storage.WriteBatch, error) {
		var stats models.UserStats
		var existing *models.UserStats

		err := g.Get(ctx, &stats)
		switch {
		case err == nil:
			existing = &stats
			if err := g.Release(ctx); err != nil {
				return nil, fmt.Errorf("failed to release user guard: %w", err)
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to read user state: %w", err)
		}

		activity, err := plan(existing)
		if err != nil {
			return nil, err
		}

		return r.activityBatch(activity), nil
	})
}

func (r *MetricsRepository) activityBatch(a *Activity) *storage.WriteBatch {
	batch := r.table.NewBatch()
	ts := a.At.UTC().Format(time.RFC3339)
	xp := a.Spec.XP

	// Audit record
	batch.Set(storage.ItemKey{PK: models.UserPK(a.User), SK: a.RecordSK}, a.Record)

	// User stats
	statsKey := userStatsKey(a.User)
	batch.Add(statsKey, map[string]int64{
		a.Spec.UserCountField: 1,
		models.FieldTotalXP:   xp,
	})

	profile := map[string]interface{}{models.FieldLastActive: ts}
	if a.NewUser {
		profile[models.FieldFirstActive] = ts
		profile[models.FieldIPAddress] = a.IPAddress
		profile[models.FieldLeaderboardScope] = models.GlobalScope
	}
	batch.Set(statsKey, profile)
	batch.Rank(models.GlobalLeaderboardIndex, models.GlobalScope, a.User, xp)

	// All-time counters
	allTime := models.AllTime()
	general := map[string]int64{a.Spec.CountField: 1}
	if a.NewUser {
		general[models.FieldNewUsers] = 1
	}
	batch.Add(generalKey(allTime), general)
	batch.Add(storage.ItemKey{PK: allTime.String(), SK: a.Breakdown.String()}, map[string]int64{models.FieldCount: 1})

	// Rollups
	for _, typ := range periods.Rollups {
		scope := models.PeriodScope(typ, a.Periods.Key(typ))

		counters := map[string]int64{
			a.Spec.CountField:       1,
			models.FieldActiveUsers: a.Active[typ],
		}
		if a.NewUser {
			counters[models.FieldNewUsers] = 1
		}
		batch.Add(generalKey(scope), counters)
		batch.Add(storage.ItemKey{PK: scope.String(), SK: a.Breakdown.String()}, map[string]int64{models.FieldCount: 1})
	}

	// Weekly leaderboard
	entryKey := weeklyEntryKey(a.Periods.ISOWeek, a.User)
	batch.Add(entryKey, map[string]int64{models.FieldXP: xp})
	batch.SetIfAbsent(entryKey, models.FieldFirstXP, ts)
	batch.Rank(models.WeeklyLeaderboardIndex, models.LeaderboardPK(a.Periods.ISOWeek), a.User, xp)

	return batch
}

// RecordEntrance counts one dapp entrance in the all-time scope and in every
// rollup of set, atomically.
func (r *MetricsRepository) RecordEntrance(ctx context.Context, set periods.Set) error {
	inc := map[string]int64{models.FieldDappEntrances: 1}

	batch := r.table.NewBatch().Add(generalKey(models.AllTime()), inc)
	for _, typ := range periods.Rollups {
		batch.Add(generalKey(models.PeriodScope(typ, set.Key(typ))), inc)
	}

	return r.table.TransactWrite(ctx, batch)
}

// Returns the GENERAL counters of a scope, all zero when none were written
func (r *MetricsRepository) General(ctx context.Context, scope models.Scope) (models.GeneralStats, error) {
	var stats models.GeneralStats
	err := r.table.GetItem(ctx, generalKey(scope), false, &stats)
	if errors.Is(err, storage.ErrNotFound) {
		return models.GeneralStats{}, nil
	}

	return stats, err
}

// Returns the GENERAL counters of every scope, aligned with scopes. Missing
// scopes read as zero.
func (r *MetricsRepository) GeneralBatch(ctx context.Context, scopes []models.Scope) ([]models.GeneralStats, error) {
	keys := make([]storage.ItemKey, len(scopes))
	for i, scope := range scopes {
		keys[i] = generalKey(scope)
	}

	items, err := r.table.BatchGetItem(ctx, keys, false)
	if err != nil {
		return nil, err
	}

	stats := make([]models.GeneralStats, len(scopes))
	for i, key := range keys {
		item, ok := items[key]
		if !ok {
			continue
		}
		if err := item.Scan(&stats[i]); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
	}

	return stats, nil
}

// Returns the breakdown counters of one event type within a scope, in key
// order. Keys that do not decode are skipped.
func (r *MetricsRepository) Breakdown(ctx context.Context, scope models.Scope, event models.EventType) ([]models.BreakdownCounter, error) {
	prefix := models.BreakdownPrefix(event)
	if prefix == "" {
		return nil, fmt.Errorf("event %q has no breakdown", event)
	}

	items, err := r.table.Query(ctx, scope.String(), prefix)
	if err != nil {
		return nil, err
	}

	counters := make([]models.BreakdownCounter, 0, len(items))
	for _, item := range items {
		key, err := models.ParseBreakdownKey(item.Key.SK)
		if err != nil || key.Event != event {
			continue
		}
		counters = append(counters, models.BreakdownCounter{Key: key, Count: item.Int64(models.FieldCount)})
	}

	return counters, nil
}

// Returns one page of a leaderboard in descending XP order, starting below
// after (nil for the first page). isoWeek selects the week of the weekly
// board and is ignored for the global one.
func (r *MetricsRepository) Leaderboard(ctx context.Context, scope models.LeaderboardScope, isoWeek string, after *models.RankedUser, limit int64) ([]models.RankedUser, error) {
	var index, partition, sinceField string
	var detailKey func(user string) storage.ItemKey

	switch scope {
	case models.LeaderboardGlobal:
		index, partition, sinceField = models.GlobalLeaderboardIndex, models.GlobalScope, models.FieldFirstActive
		detailKey = userStatsKey
	case models.LeaderboardWeekly:
		index, partition, sinceField = models.WeeklyLeaderboardIndex, models.LeaderboardPK(isoWeek), models.FieldFirstXP
		detailKey = func(user string) storage.ItemKey { return weeklyEntryKey(isoWeek, user) }
	default:
		return nil, fmt.Errorf("unknown leaderboard scope %q", scope)
	}

	var cursor *storage.RankEntry
	if after != nil {
		cursor = &storage.RankEntry{Member: after.UserAddress, Score: after.XP}
	}

	entries, err := r.table.Rank(ctx, index, partition, cursor, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []models.RankedUser{}, nil
	}

	keys := make([]storage.ItemKey, len(entries))
	for i, e := range entries {
		keys[i] = detailKey(e.Member)
	}

	details, err := r.table.BatchGetItem(ctx, keys, false)
	if err != nil {
		return nil, err
	}

	users := make([]models.RankedUser, len(entries))
	for i, e := range entries {
		users[i] = models.RankedUser{
			UserAddress: e.Member,
			XP:          e.Score,
			Since:       details[keys[i]].Fields[sinceField],
		}
	}

	return users, nil
}

// Returns the user's lifetime XP and XP within isoWeek, 0 for either record
// when absent
func (r *MetricsRepository) UserXP(ctx context.Context, user, isoWeek string) (int64, int64, error) {
	statsKey := userStatsKey(user)
	entryKey := weeklyEntryKey(isoWeek, user)

	items, err := r.table.BatchGetItem(ctx, []storage.ItemKey{statsKey, entryKey}, false)
	if err != nil {
		return 0, 0, err
	}

	return items[statsKey].Int64(models.FieldTotalXP), items[entryKey].Int64(models.FieldXP), nil
}
