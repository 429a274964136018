package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/observability"
	"github.com/altverseweb3/backend/internal/repository"
	"github.com/altverseweb3/backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tableName = "api_rate_limits"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupLimiter(t *testing.T, limit int64, window time.Duration) (*FixedWindowLimiter, *miniredis.Miniredis, *clock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(mr.Addr(), "", 0, storage.WithTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// Record expiry is an absolute time, keep the clock near the server's
	c := &clock{now: time.Now().Truncate(time.Second)}
	limiter := NewFixedWindow(
		repository.NewRateLimitRepository(client, tableName),
		limit, window, zap.NewNop(),
		WithClock(c.Now),
	)

	return limiter, mr, c
}

func TestAdmit_LimitPerWindow(t *testing.T) {
	limiter, _, _ := setupLimiter(t, 5, 300*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := limiter.Admit(ctx, "1.2.3.4")
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, int64(4-i), d.Remaining)
		assert.False(t, d.FailOpen)
	}

	d := limiter.Admit(ctx, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(5), d.Limit)
	assert.Equal(t, int64(300), d.RetryAfterSeconds)
	assert.Zero(t, d.Remaining)

	// Other clients keep their own quota
	assert.True(t, limiter.Admit(ctx, "5.6.7.8").Allowed)
}

func TestAdmit_FirstRequestCreatesRecord(t *testing.T) {
	limiter, mr, c := setupLimiter(t, 3, time.Minute)

	d := limiter.Admit(context.Background(), "1.2.3.4")
	require.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Remaining)
	assert.Equal(t, c.Now().Add(time.Minute).Unix(), d.ResetAt.Unix())

	key := tableName + ":1.2.3.4"
	assert.Equal(t, "2", mr.HGet(key, models.FieldCredits))
	assert.Equal(t, strconv.FormatInt(c.Now().Unix(), 10), mr.HGet(key, models.FieldLastReplenishTime))
	assert.Equal(t, strconv.FormatInt(models.NextMidnight(c.Now()).Unix(), 10), mr.HGet(key, models.FieldTTL))
	assert.Equal(t, "1.2.3.4", mr.HGet(key, models.FieldIPAddress))
	assert.Greater(t, mr.TTL(key), time.Duration(0))
}

func TestAdmit_RetryAfterShrinks(t *testing.T) {
	limiter, _, c := setupLimiter(t, 1, 100*time.Second)
	ctx := context.Background()

	require.True(t, limiter.Admit(ctx, "c").Allowed)

	c.Advance(40 * time.Second)
	d := limiter.Admit(ctx, "c")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(60), d.RetryAfterSeconds)
}

func TestAdmit_WindowRollover(t *testing.T) {
	limiter, mr, c := setupLimiter(t, 3, 300*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Admit(ctx, "c").Allowed)
	}
	require.False(t, limiter.Admit(ctx, "c").Allowed)

	c.Advance(300 * time.Second)

	d := limiter.Admit(ctx, "c")
	require.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Remaining)
	assert.Equal(t, "2", mr.HGet(tableName+":c", models.FieldCredits))
	assert.Equal(t, strconv.FormatInt(c.Now().Unix(), 10), mr.HGet(tableName+":c", models.FieldLastReplenishTime))
}

func TestAdmit_RolloverReplacesRecord(t *testing.T) {
	limiter, mr, c := setupLimiter(t, 10, time.Minute)
	key := tableName + ":c"

	mr.HSet(key,
		models.FieldCredits, "0",
		models.FieldLastReplenishTime, strconv.FormatInt(c.Now().Add(-2*time.Minute).Unix(), 10),
		"stale", "x",
	)

	require.True(t, limiter.Admit(context.Background(), "c").Allowed)
	assert.Equal(t, "9", mr.HGet(key, models.FieldCredits))
	assert.Empty(t, mr.HGet(key, "stale"))
}

func TestAdmit_ConcurrentDecrement(t *testing.T) {
	limiter, mr, c := setupLimiter(t, 100, time.Hour)

	const remaining, attempts = 7, 40
	mr.HSet(tableName+":c",
		models.FieldCredits, strconv.Itoa(remaining),
		models.FieldLastReplenishTime, strconv.FormatInt(c.Now().Unix(), 10),
	)

	var allowed, denied int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit(context.Background(), "c").Allowed {
				atomic.AddInt64(&allowed, 1)
			} else {
				atomic.AddInt64(&denied, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(remaining), allowed)
	assert.Equal(t, int64(attempts-remaining), denied)
	assert.Equal(t, "0", mr.HGet(tableName+":c", models.FieldCredits))
}

func TestAdmit_ConcurrentFirstRequests(t *testing.T) {
	limiter, _, _ := setupLimiter(t, 5, time.Hour)

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit(context.Background(), "new-client").Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), allowed)
}

func TestAdmit_FailOpen(t *testing.T) {
	limiter, mr, _ := setupLimiter(t, 1, time.Minute)
	metrics := observability.NewMetrics()
	limiter.metrics = metrics

	mr.Close()

	for i := 0; i < 3; i++ {
		d := limiter.Admit(context.Background(), "c")
		assert.True(t, d.Allowed)
		assert.True(t, d.FailOpen)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Admissions.WithLabelValues("fail_open")))
}

// flakyStore reports a full window to the first Find, so Admit goes on to a
// decrement that fails, and errors on every Find after that
type flakyStore struct {
	windowStore
	finds int
}

func (s *flakyStore) Find(ctx context.Context, clientID string) (*models.RateLimitRecord, error) {
	s.finds++
	if s.finds > 1 {
		return nil, errors.New("connection reset")
	}

	record, err := s.windowStore.Find(ctx, clientID)
	if err != nil || record == nil {
		return record, err
	}
	record.Credits = 1
	return record, nil
}

func TestAdmit_FailOpenWhenRereadFails(t *testing.T) {
	limiter, _, _ := setupLimiter(t, 1, time.Minute)
	metrics := observability.NewMetrics()
	limiter.metrics = metrics

	require.True(t, limiter.Admit(context.Background(), "c").Allowed)

	limiter.store = &flakyStore{windowStore: limiter.store}

	d := limiter.Admit(context.Background(), "c")
	assert.True(t, d.Allowed)
	assert.True(t, d.FailOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Admissions.WithLabelValues("fail_open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Admissions.WithLabelValues("denied")))
}

func TestLimiterAccessors(t *testing.T) {
	limiter, _, _ := setupLimiter(t, 5000, 300*time.Second)

	assert.Equal(t, int64(5000), limiter.Limit())
	assert.Equal(t, 300*time.Second, limiter.Window())
}
