package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/periods"
	"github.com/altverseweb3/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMetrics(t *testing.T) (*MetricsRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewMetricsRepository(client, "metrics"), mr
}

var recordedAt = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

func swapActivity(user, tx string, newUser bool) *Activity {
	spec, _ := models.LookupEvent(models.EventSwap)
	set := periods.For(recordedAt)

	active := map[periods.Type]int64{}
	if newUser {
		for _, typ := range periods.Rollups {
			active[typ] = 1
		}
	}

	return &Activity{
		Spec:      spec,
		User:      user,
		IPAddress: "10.0.0.1",
		At:        recordedAt,
		Periods:   set,
		RecordSK:  models.EventSK(spec.RecordPrefix, recordedAt.Format(time.RFC3339), tx),
		Record:    map[string]interface{}{"tx_hash": tx, models.FieldTxType: spec.RecordPrefix},
		Breakdown: models.BreakdownKey{Event: models.EventSwap, First: "eth", Second: "arb"},
		NewUser:   newUser,
		Active:    active,
	}
}

func TestRecordActivity_NewUser(t *testing.T) {
	repo, mr := setupMetrics(t)
	ctx := context.Background()

	var seen *models.UserStats
	err := repo.RecordActivity(ctx, "0xA", func(existing *models.UserStats) (*Activity, error) {
		seen = existing
		return swapActivity("0xA", "0x1", existing == nil), nil
	})
	require.NoError(t, err)
	assert.Nil(t, seen)

	assert.Equal(t, "1", mr.HGet("metrics:USER#0xA|STATS", "total_swap_count"))
	assert.Equal(t, "50", mr.HGet("metrics:USER#0xA|STATS", "total_xp"))
	assert.Equal(t, "2023-11-14T22:13:20Z", mr.HGet("metrics:USER#0xA|STATS", "first_active_timestamp"))
	assert.Equal(t, "10.0.0.1", mr.HGet("metrics:USER#0xA|STATS", "ip_address"))

	assert.Equal(t, "1", mr.HGet("metrics:STAT#all#ALL|GENERAL", "new_users"))
	assert.Equal(t, "1", mr.HGet("metrics:STAT#daily#2023-11-14|GENERAL", "active_users"))
	assert.Equal(t, "1", mr.HGet("metrics:STAT#weekly#2023-11-13|SWAP#eth,arb", "count"))
	assert.Equal(t, "50", mr.HGet("metrics:LEADERBOARD#2023-46|USER#0xA", "xp"))
}

func TestRecordActivity_ExistingUserSeesState(t *testing.T) {
	repo, mr := setupMetrics(t)
	ctx := context.Background()

	plan := func(existing *models.UserStats) (*Activity, error) {
		return swapActivity("0xA", "0x1", existing == nil), nil
	}
	require.NoError(t, repo.RecordActivity(ctx, "0xA", plan))

	var seen *models.UserStats
	err := repo.RecordActivity(ctx, "0xA", func(existing *models.UserStats) (*Activity, error) {
		seen = existing
		return swapActivity("0xA", "0x2", existing == nil), nil
	})
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, int64(1), seen.TotalSwapCount)
	assert.Equal(t, int64(50), seen.TotalXP)
	assert.Equal(t, "1", mr.HGet("metrics:STAT#all#ALL|GENERAL", "new_users"))
	assert.Equal(t, "2", mr.HGet("metrics:STAT#all#ALL|GENERAL", "swap_count"))
}

func TestRecordActivity_ConcurrentFirstEventAborts(t *testing.T) {
	repo, mr := setupMetrics(t)
	ctx := context.Background()

	err := repo.RecordActivity(ctx, "0xA", func(existing *models.UserStats) (*Activity, error) {
		require.Nil(t, existing)

		// Another request records the same user's first event in between
		inner := repo.RecordActivity(ctx, "0xA", func(existing *models.UserStats) (*Activity, error) {
			return swapActivity("0xA", "0x2", existing == nil), nil
		})
		require.NoError(t, inner)

		return swapActivity("0xA", "0x1", true), nil
	})
	assert.ErrorIs(t, err, storage.ErrConditionFailed)

	assert.Equal(t, "1", mr.HGet("metrics:STAT#all#ALL|GENERAL", "new_users"))
	assert.Equal(t, "1", mr.HGet("metrics:USER#0xA|STATS", "total_swap_count"))
	assert.False(t, mr.Exists("metrics:USER#0xA|SWAP#2023-11-14T22:13:20Z#0x1"))
}

func TestRecordActivity_PlanError(t *testing.T) {
	repo, mr := setupMetrics(t)

	err := repo.RecordActivity(context.Background(), "0xA", func(*models.UserStats) (*Activity, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, mr.Keys())
}

func TestRecordEntrance(t *testing.T) {
	repo, mr := setupMetrics(t)
	set := periods.For(recordedAt)

	require.NoError(t, repo.RecordEntrance(context.Background(), set))
	require.NoError(t, repo.RecordEntrance(context.Background(), set))

	for _, key := range []string{
		"metrics:STAT#all#ALL|GENERAL",
		"metrics:STAT#daily#2023-11-14|GENERAL",
		"metrics:STAT#weekly#2023-11-13|GENERAL",
		"metrics:STAT#monthly#2023-11-01|GENERAL",
	} {
		assert.Equal(t, "2", mr.HGet(key, "dapp_entrances"), key)
	}
}

func TestGeneralBatch_AlignedWithScopes(t *testing.T) {
	repo, _ := setupMetrics(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordActivity(ctx, "0xA", func(existing *models.UserStats) (*Activity, error) {
		return swapActivity("0xA", "0x1", existing == nil), nil
	}))

	scopes := []models.Scope{
		models.PeriodScope(periods.Daily, "2023-11-15"),
		models.PeriodScope(periods.Daily, "2023-11-14"),
		models.PeriodScope(periods.Daily, "2023-11-13"),
	}
	stats, err := repo.GeneralBatch(ctx, scopes)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Zero(t, stats[0])
	assert.Equal(t, int64(1), stats[1].SwapCount)
	assert.Equal(t, int64(1), stats[1].NewUsers)
	assert.Zero(t, stats[2])

	empty, err := repo.General(ctx, models.PeriodScope(periods.Monthly, "2020-01-01"))
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestBreakdown_SkipsOtherEventsAndMalformedKeys(t *testing.T) {
	repo, mr := setupMetrics(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordActivity(ctx, "0xA", func(existing *models.UserStats) (*Activity, error) {
		return swapActivity("0xA", "0x1", existing == nil), nil
	}))

	// A key under the swap prefix without its separator
	mr.HSet("metrics:STAT#all#ALL|SWAP#broken", "count", "9")
	mr.ZAdd("metrics:pk:STAT#all#ALL", 0, "SWAP#broken")

	counters, err := repo.Breakdown(ctx, models.AllTime(), models.EventSwap)
	require.NoError(t, err)
	assert.Equal(t, []models.BreakdownCounter{
		{Key: models.BreakdownKey{Event: models.EventSwap, First: "eth", Second: "arb"}, Count: 1},
	}, counters)

	lending, err := repo.Breakdown(ctx, models.AllTime(), models.EventLending)
	require.NoError(t, err)
	assert.Empty(t, lending)

	_, err = repo.Breakdown(ctx, models.AllTime(), models.EventEntrance)
	assert.Error(t, err)
}

func TestLeaderboard(t *testing.T) {
	repo, _ := setupMetrics(t)
	ctx := context.Background()

	for i, user := range []string{"0xA", "0xB", "0xA", "0xC", "0xA", "0xB"} {
		tx := string(rune('a' + i))
		require.NoError(t, repo.RecordActivity(ctx, user, func(existing *models.UserStats) (*Activity, error) {
			return swapActivity(user, tx, existing == nil), nil
		}))
	}

	global, err := repo.Leaderboard(ctx, models.LeaderboardGlobal, "", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.RankedUser{
		{UserAddress: "0xA", XP: 150, Since: "2023-11-14T22:13:20Z"},
		{UserAddress: "0xB", XP: 100, Since: "2023-11-14T22:13:20Z"},
		{UserAddress: "0xC", XP: 50, Since: "2023-11-14T22:13:20Z"},
	}, global)

	page, err := repo.Leaderboard(ctx, models.LeaderboardWeekly, "2023-46", &global[0], 1)
	require.NoError(t, err)
	assert.Equal(t, []models.RankedUser{{UserAddress: "0xB", XP: 100, Since: "2023-11-14T22:13:20Z"}}, page)

	other, err := repo.Leaderboard(ctx, models.LeaderboardWeekly, "2023-47", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = repo.Leaderboard(ctx, models.LeaderboardScope("monthly"), "", nil, 10)
	assert.Error(t, err)
}

func TestUserXP(t *testing.T) {
	repo, _ := setupMetrics(t)
	ctx := context.Background()

	global, weekly, err := repo.UserXP(ctx, "0xA", "2023-46")
	require.NoError(t, err)
	assert.Zero(t, global)
	assert.Zero(t, weekly)

	require.NoError(t, repo.RecordActivity(ctx, "0xA", func(existing *models.UserStats) (*Activity, error) {
		return swapActivity("0xA", "0x1", existing == nil), nil
	}))

	global, weekly, err = repo.UserXP(ctx, "0xA", "2023-46")
	require.NoError(t, err)
	assert.Equal(t, int64(50), global)
	assert.Equal(t, int64(50), weekly)

	_, weekly, err = repo.UserXP(ctx, "0xA", "2023-47")
	require.NoError(t, err)
	assert.Zero(t, weekly)
}
