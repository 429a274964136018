package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/altverseweb3/backend/internal/models"
	"github.com/altverseweb3/backend/internal/periods"
	"github.com/altverseweb3/backend/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPeriodLimit = 7
	MaxPeriodLimit     = 90

	DefaultLeaderboardLimit = 100
	MaxLeaderboardLimit     = 1000

	// Partitions read concurrently by the periodic breakdown queries
	maxConcurrentReads = 8
)

// AnalyticsService rebuilds summaries, time series and rankings from the
// counters written by MetricsService
type AnalyticsService struct {
	repo *repository.MetricsRepository
	now  func() time.Time
}

func NewAnalyticsService(repo *repository.MetricsRepository, opts ...Option) *AnalyticsService {
	o := buildOptions(opts)
	return &AnalyticsService{
		repo: repo,
		now:  o.now,
	}
}

// Holds the all-time activity counters
type TotalActivity struct {
	TotalTransactions int64 `json:"total_transactions"`
	SwapCount         int64 `json:"swap_count"`
	LendingCount      int64 `json:"lending_count"`
	EarnCount         int64 `json:"earn_count"`
	DappEntrances     int64 `json:"dapp_entrances"`
	TotalUsers        int64 `json:"total_users"`
}

// Holds the activity counters of one period
type PeriodActivity struct {
	Period                    string  `json:"period"`
	TotalTransactions         int64   `json:"total_transactions"`
	SwapCount                 int64   `json:"swap_count"`
	LendingCount              int64   `json:"lending_count"`
	EarnCount                 int64   `json:"earn_count"`
	DappEntrances             int64   `json:"dapp_entrances"`
	ActiveUsers               int64   `json:"active_users"`
	TransactionsPerActiveUser float64 `json:"transactions_per_active_user"`
}

type PeriodUsers struct {
	PeriodStart string `json:"period_start"`
	NewUsers    int64  `json:"new_users"`
	ActiveUsers int64  `json:"active_users"`
}

type PeriodicUsers struct {
	PeriodType periods.Type  `json:"period_type"`
	Data       []PeriodUsers `json:"data"`
}

type SwapStats struct {
	TotalSwapCount  int64            `json:"total_swap_count"`
	SwapRoutes      map[string]int64 `json:"swap_routes"`
	CrossChainCount int64            `json:"cross_chain_count"`
	SameChainCount  int64            `json:"same_chain_count"`
}

type PeriodSwapStats struct {
	Period          string           `json:"period"`
	PeriodType      periods.Type     `json:"period_type"`
	SwapRoutes      map[string]int64 `json:"swap_routes"`
	CrossChainCount int64            `json:"cross_chain_count"`
	SameChainCount  int64            `json:"same_chain_count"`
}

type LendingBreakdown struct {
	Chain  string `json:"chain"`
	Market string `json:"market"`
	Count  int64  `json:"count"`
}

type LendingStats struct {
	TotalLendingCount int64              `json:"total_lending_count"`
	Breakdown         []LendingBreakdown `json:"breakdown"`
}

type PeriodLending struct {
	PeriodStart       string             `json:"period_start"`
	TotalLendingCount int64              `json:"total_lending_count"`
	Breakdown         []LendingBreakdown `json:"breakdown"`
}

type PeriodicLending struct {
	PeriodType periods.Type    `json:"period_type"`
	Data       []PeriodLending `json:"data"`
}

type EarnStats struct {
	TotalEarnCount  int64            `json:"total_earn_count"`
	ByChain         map[string]int64 `json:"by_chain"`
	ByProtocol      map[string]int64 `json:"by_protocol"`
	ByChainProtocol map[string]int64 `json:"by_chain_protocol"`
}

type PeriodEarn struct {
	PeriodStart string `json:"period_start"`
	EarnStats
}

type GlobalLeaderboardItem struct {
	UserAddress          string `json:"user_address"`
	TotalXP              int64  `json:"total_xp"`
	FirstActiveTimestamp string `json:"first_active_timestamp,omitempty"`
}

type WeeklyLeaderboardItem struct {
	UserAddress      string `json:"user_address"`
	XP               int64  `json:"xp"`
	FirstXPTimestamp string `json:"first_xp_timestamp,omitempty"`
}

// LeaderboardPage holds one page of a leaderboard. Items is a
// []GlobalLeaderboardItem or a []WeeklyLeaderboardItem; LastKey is nil on the
// last page.
type LeaderboardPage struct {
	Items   interface{} `json:"items"`
	LastKey *string     `json:"lastKey"`
}

type UserEntry struct {
	UserAddress   string `json:"user_address"`
	GlobalTotalXP int64  `json:"global_total_xp"`
	WeeklyXP      int64  `json:"weekly_xp"`
}

// Reads the all-time GENERAL counters, zero before the first event
func (s *AnalyticsService) TotalActivity(ctx context.Context) (*TotalActivity, error) {
	stats, err := s.repo.General(ctx, models.AllTime())
	if err != nil {
		return nil, err
	}

	return &TotalActivity{
		TotalTransactions: stats.TotalTransactions(),
		SwapCount:         stats.SwapCount,
		LendingCount:      stats.LendingCount,
		EarnCount:         stats.EarnCount,
		DappEntrances:     stats.DappEntrances,
		TotalUsers:        stats.NewUsers,
	}, nil
}

// Returns the last limit periods, most recent first, with zeros for periods
// without activity
func (s *AnalyticsService) PeriodicActivity(ctx context.Context, periodType periods.Type, limit int) ([]PeriodActivity, error) {
	starts, stats, err := s.periodGenerals(ctx, periodType, limit)
	if err != nil {
		return nil, err
	}

	results := make([]PeriodActivity, len(starts))
	for i, start := range starts {
		g := stats[i]
		total := g.TotalTransactions()

		var perUser float64
		if g.ActiveUsers > 0 {
			perUser = float64(total) / float64(g.ActiveUsers)
		}

		results[i] = PeriodActivity{
			Period:                    start,
			TotalTransactions:         total,
			SwapCount:                 g.SwapCount,
			LendingCount:              g.LendingCount,
			EarnCount:                 g.EarnCount,
			DappEntrances:             g.DappEntrances,
			ActiveUsers:               g.ActiveUsers,
			TransactionsPerActiveUser: perUser,
		}
	}

	return results, nil
}

func (s *AnalyticsService) TotalUsers(ctx context.Context) (int64, error) {
	stats, err := s.repo.General(ctx, models.AllTime())
	if err != nil {
		return 0, err
	}
	return stats.NewUsers, nil
}

func (s *AnalyticsService) PeriodicUsers(ctx context.Context, periodType periods.Type, limit int) (*PeriodicUsers, error) {
	starts, stats, err := s.periodGenerals(ctx, periodType, limit)
	if err != nil {
		return nil, err
	}

	data := make([]PeriodUsers, len(starts))
	for i, start := range starts {
		data[i] = PeriodUsers{
			PeriodStart: start,
			NewUsers:    stats[i].NewUsers,
			ActiveUsers: stats[i].ActiveUsers,
		}
	}

	return &PeriodicUsers{PeriodType: periodType, Data: data}, nil
}

func (s *AnalyticsService) periodGenerals(ctx context.Context, periodType periods.Type, limit int) ([]string, []models.GeneralStats, error) {
	starts, err := periods.Past(periodType, ClampLimit(limit, MaxPeriodLimit), s.now())
	if err != nil {
		return nil, nil, newInvalidArgument(err.Error())
	}

	scopes := make([]models.Scope, len(starts))
	for i, start := range starts {
		scopes[i] = models.PeriodScope(periodType, start)
	}

	stats, err := s.repo.GeneralBatch(ctx, scopes)
	if err != nil {
		return nil, nil, err
	}

	return starts, stats, nil
}

// Reads the all-time swap total and its per-route breakdown
func (s *AnalyticsService) TotalSwap(ctx context.Context) (*SwapStats, error) {
	general, err := s.repo.General(ctx, models.AllTime())
	if err != nil {
		return nil, err
	}

	counters, err := s.repo.Breakdown(ctx, models.AllTime(), models.EventSwap)
	if err != nil {
		return nil, err
	}

	routes, cross, same := swapRoutes(counters)
	return &SwapStats{
		TotalSwapCount:  general.SwapCount,
		SwapRoutes:      routes,
		CrossChainCount: cross,
		SameChainCount:  same,
	}, nil
}

// Reads the swap routes of the single period starting at startDate
func (s *AnalyticsService) PeriodicSwap(ctx context.Context, periodType periods.Type, startDate string) (*PeriodSwapStats, error) {
	if _, err := time.Parse("2006-01-02", startDate); err != nil {
		return nil, newInvalidArgument(fmt.Sprintf("Invalid start_date %q, expected YYYY-MM-DD", startDate))
	}

	counters, err := s.repo.Breakdown(ctx, models.PeriodScope(periodType, startDate), models.EventSwap)
	if err != nil {
		return nil, err
	}

	routes, cross, same := swapRoutes(counters)
	return &PeriodSwapStats{
		Period:          startDate,
		PeriodType:      periodType,
		SwapRoutes:      routes,
		CrossChainCount: cross,
		SameChainCount:  same,
	}, nil
}

func swapRoutes(counters []models.BreakdownCounter) (map[string]int64, int64, int64) {
	routes := make(map[string]int64, len(counters))
	var cross, same int64

	for _, c := range counters {
		routes[c.Key.Dimension()] = c.Count
		if c.Key.First == c.Key.Second {
			same += c.Count
		} else {
			cross += c.Count
		}
	}

	return routes, cross, same
}

// Reads the all-time lending total and its per chain and market breakdown
func (s *AnalyticsService) TotalLending(ctx context.Context) (*LendingStats, error) {
	general, err := s.repo.General(ctx, models.AllTime())
	if err != nil {
		return nil, err
	}

	counters, err := s.repo.Breakdown(ctx, models.AllTime(), models.EventLending)
	if err != nil {
		return nil, err
	}

	breakdown, _ := lendingBreakdown(counters)
	return &LendingStats{TotalLendingCount: general.LendingCount, Breakdown: breakdown}, nil
}

// Period totals are the sum of the period's breakdown counters
func (s *AnalyticsService) PeriodicLending(ctx context.Context, periodType periods.Type, limit int) (*PeriodicLending, error) {
	starts, perPeriod, err := s.periodBreakdowns(ctx, periodType, limit, models.EventLending)
	if err != nil {
		return nil, err
	}

	data := make([]PeriodLending, len(starts))
	for i, start := range starts {
		breakdown, total := lendingBreakdown(perPeriod[i])
		data[i] = PeriodLending{PeriodStart: start, TotalLendingCount: total, Breakdown: breakdown}
	}

	return &PeriodicLending{PeriodType: periodType, Data: data}, nil
}

func lendingBreakdown(counters []models.BreakdownCounter) ([]LendingBreakdown, int64) {
	breakdown := make([]LendingBreakdown, 0, len(counters))
	var total int64

	for _, c := range counters {
		breakdown = append(breakdown, LendingBreakdown{Chain: c.Key.First, Market: c.Key.Second, Count: c.Count})
		total += c.Count
	}

	return breakdown, total
}

// Reads the all-time earn total and its chain and protocol breakdowns
func (s *AnalyticsService) TotalEarn(ctx context.Context) (*EarnStats, error) {
	general, err := s.repo.General(ctx, models.AllTime())
	if err != nil {
		return nil, err
	}

	counters, err := s.repo.Breakdown(ctx, models.AllTime(), models.EventEarn)
	if err != nil {
		return nil, err
	}

	stats := earnStats(counters)
	stats.TotalEarnCount = general.EarnCount
	return stats, nil
}

func (s *AnalyticsService) PeriodicEarn(ctx context.Context, periodType periods.Type, limit int) ([]PeriodEarn, error) {
	starts, perPeriod, err := s.periodBreakdowns(ctx, periodType, limit, models.EventEarn)
	if err != nil {
		return nil, err
	}

	results := make([]PeriodEarn, len(starts))
	for i, start := range starts {
		results[i] = PeriodEarn{PeriodStart: start, EarnStats: *earnStats(perPeriod[i])}
	}

	return results, nil
}

// TotalEarnCount is the sum of the breakdown counters
func earnStats(counters []models.BreakdownCounter) *EarnStats {
	stats := &EarnStats{
		ByChain:         map[string]int64{},
		ByProtocol:      map[string]int64{},
		ByChainProtocol: map[string]int64{},
	}

	for _, c := range counters {
		stats.ByChainProtocol[c.Key.Dimension()] = c.Count
		stats.ByChain[c.Key.First] += c.Count
		stats.ByProtocol[c.Key.Second] += c.Count
		stats.TotalEarnCount += c.Count
	}

	return stats
}

// Range-reads one breakdown partition per period, concurrently, keeping the
// period order of the result
func (s *AnalyticsService) periodBreakdowns(ctx context.Context, periodType periods.Type, limit int, event models.EventType) ([]string, [][]models.BreakdownCounter, error) {
	starts, err := periods.Past(periodType, ClampLimit(limit, MaxPeriodLimit), s.now())
	if err != nil {
		return nil, nil, newInvalidArgument(err.Error())
	}

	results := make([][]models.BreakdownCounter, len(starts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)

	for i, start := range starts {
		i, start := i, start
		g.Go(func() error {
			counters, err := s.repo.Breakdown(gctx, models.PeriodScope(periodType, start), event)
			if err != nil {
				return fmt.Errorf("period %s: %w", start, err)
			}
			results[i] = counters
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return starts, results, nil
}

// Leaderboard returns one page of the global or current-week ranking in
// descending XP order. cursor is the LastKey of the previous page.
func (s *AnalyticsService) Leaderboard(ctx context.Context, scope string, limit int, cursor string) (*LeaderboardPage, error) {
	board := models.LeaderboardScope(scope)
	if board != models.LeaderboardGlobal && board != models.LeaderboardWeekly {
		return nil, newInvalidArgument("Invalid scope. Must be 'global' or 'weekly'.")
	}

	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	limit = ClampLimit(limit, MaxLeaderboardLimit)
	week := periods.For(s.now()).ISOWeek

	users, err := s.repo.Leaderboard(ctx, board, week, after, int64(limit))
	if err != nil {
		return nil, err
	}

	page := &LeaderboardPage{}
	if len(users) == limit {
		next := encodeCursor(users[len(users)-1])
		page.LastKey = &next
	}

	switch board {
	case models.LeaderboardGlobal:
		items := make([]GlobalLeaderboardItem, len(users))
		for i, u := range users {
			items[i] = GlobalLeaderboardItem{UserAddress: u.UserAddress, TotalXP: u.XP, FirstActiveTimestamp: u.Since}
		}
		page.Items = items
	default:
		items := make([]WeeklyLeaderboardItem, len(users))
		for i, u := range users {
			items[i] = WeeklyLeaderboardItem{UserAddress: u.UserAddress, XP: u.XP, FirstXPTimestamp: u.Since}
		}
		page.Items = items
	}

	return page, nil
}

// Returns the user's lifetime and current-week XP, 0 when never seen
func (s *AnalyticsService) UserEntry(ctx context.Context, userAddress string) (*UserEntry, error) {
	userAddress = strings.TrimSpace(userAddress)
	if userAddress == "" {
		return nil, newInvalidArgument("Missing required parameter: user_address")
	}

	globalXP, weeklyXP, err := s.repo.UserXP(ctx, userAddress, periods.For(s.now()).ISOWeek)
	if err != nil {
		return nil, err
	}

	return &UserEntry{UserAddress: userAddress, GlobalTotalXP: globalXP, WeeklyXP: weeklyXP}, nil
}

// ClampLimit bounds limit to [1, max]
func ClampLimit(limit, max int) int {
	switch {
	case limit < 1:
		return 1
	case limit > max:
		return max
	default:
		return limit
	}
}

// A leaderboard cursor names the last row served, so the next page starts
// below it however the ranking moved in between
type leaderboardCursor struct {
	UserAddress string `json:"u"`
	XP          int64  `json:"xp"`
}

func encodeCursor(last models.RankedUser) string {
	raw, _ := json.Marshal(leaderboardCursor{UserAddress: last.UserAddress, XP: last.XP})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (*models.RankedUser, error) {
	if cursor == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, newInvalidArgument("Invalid lastKey")
	}

	var c leaderboardCursor
	if err := json.Unmarshal(raw, &c); err != nil || c.UserAddress == "" || c.XP < 0 {
		return nil, newInvalidArgument("Invalid lastKey")
	}

	return &models.RankedUser{UserAddress: c.UserAddress, XP: c.XP}, nil
}
