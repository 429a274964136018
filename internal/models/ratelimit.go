package models

import "time"

const (
	FieldCredits           = "credits"
	FieldLastReplenishTime = "last_replenish_time"
	FieldTTL               = "ttl"
)

// RateLimitRecord holds the credit window of one client
type RateLimitRecord struct {
	Credits           int64  `redis:"credits"`
	LastReplenishTime int64  `redis:"last_replenish_time"`
	TTL               int64  `redis:"ttl"`
	IPAddress         string `redis:"ip_address"`
}

func (r RateLimitRecord) WindowStart() time.Time {
	return time.Unix(r.LastReplenishTime, 0).UTC()
}

// Returns the end of the window that starts at the record's replenish time
func (r RateLimitRecord) WindowEnd(window time.Duration) time.Time {
	return r.WindowStart().Add(window)
}

func (r RateLimitRecord) Fields() map[string]interface{} {
	return map[string]interface{}{
		FieldCredits:           r.Credits,
		FieldLastReplenishTime: r.LastReplenishTime,
		FieldTTL:               r.TTL,
		FieldIPAddress:         r.IPAddress,
	}
}

// Returns the next UTC midnight after t
func NextMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}
