package models

// Counter field names
const (
	FieldSwapCount     = "swap_count"
	FieldLendingCount  = "lending_count"
	FieldEarnCount     = "earn_count"
	FieldDappEntrances = "dapp_entrances"
	FieldNewUsers      = "new_users"
	FieldActiveUsers   = "active_users"
	FieldCount         = "count"

	FieldTotalXP           = "total_xp"
	FieldTotalSwapCount    = "total_swap_count"
	FieldTotalLendingCount = "total_lending_count"
	FieldTotalEarnCount    = "total_earn_count"
	FieldFirstActive       = "first_active_timestamp"
	FieldLastActive        = "last_active_timestamp"
	FieldLeaderboardScope  = "leaderboard_scope"
	FieldIPAddress         = "ip_address"
	FieldXP                = "xp"
	FieldFirstXP           = "first_xp_timestamp"
	FieldTxType            = "tx_type"
)

// Secondary ordering indexes over XP
const (
	GlobalLeaderboardIndex = "global-leaderboard-by-xp"
	WeeklyLeaderboardIndex = "leaderboard-by-xp"
)

// GeneralStats is the GENERAL counter record of a scope
type GeneralStats struct {
	SwapCount     int64 `redis:"swap_count" json:"swap_count"`
	LendingCount  int64 `redis:"lending_count" json:"lending_count"`
	EarnCount     int64 `redis:"earn_count" json:"earn_count"`
	DappEntrances int64 `redis:"dapp_entrances" json:"dapp_entrances"`
	NewUsers      int64 `redis:"new_users" json:"new_users"`
	ActiveUsers   int64 `redis:"active_users" json:"active_users"`
}

func (g GeneralStats) TotalTransactions() int64 {
	return g.SwapCount + g.LendingCount + g.EarnCount
}

type BreakdownCounter struct {
	Key   BreakdownKey
	Count int64
}

// UserStats is the lifetime record of one user address
type UserStats struct {
	TotalXP              int64  `redis:"total_xp" json:"total_xp"`
	TotalSwapCount       int64  `redis:"total_swap_count" json:"total_swap_count"`
	TotalLendingCount    int64  `redis:"total_lending_count" json:"total_lending_count"`
	TotalEarnCount       int64  `redis:"total_earn_count" json:"total_earn_count"`
	FirstActiveTimestamp string `redis:"first_active_timestamp" json:"first_active_timestamp"`
	LastActiveTimestamp  string `redis:"last_active_timestamp" json:"last_active_timestamp"`
	LeaderboardScope     string `redis:"leaderboard_scope" json:"leaderboard_scope"`
	IPAddress            string `redis:"ip_address" json:"-"`
}

// LeaderboardEntry is a user's standing within one ISO week
type LeaderboardEntry struct {
	XP               int64  `redis:"xp" json:"xp"`
	FirstXPTimestamp string `redis:"first_xp_timestamp" json:"first_xp_timestamp"`
}

// RankedUser is one row of a leaderboard page
type RankedUser struct {
	UserAddress string
	XP          int64
	Since       string
}

type LeaderboardScope string

const (
	LeaderboardGlobal LeaderboardScope = "global"
	LeaderboardWeekly LeaderboardScope = "weekly"
)
