// Package periods maps timestamps onto the calendar buckets used by the
// metrics counters. The write path and the read path both go through here,
// so a bucket key computed for an event always matches the key a query
// reconstructs for the same instant.
package periods

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type Type string

const (
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
	AllTime Type = "all"
)

// AllTimeKey is the single bucket key of the all-time scope.
const AllTimeKey = "ALL"

// Rollups lists the calendar scopes every event is counted in, in write order.
var Rollups = []Type{Daily, Weekly, Monthly}

// Set holds the bucket keys an instant falls into.
type Set struct {
	Daily   string
	Weekly  string
	Monthly string
	ISOWeek string
}

// Returns the bucket keys for t, evaluated in UTC
func For(t time.Time) Set {
	t = t.UTC()

	// Monday is day 0 of the week
	offset := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -offset)

	year, week := t.ISOWeek()

	return Set{
		Daily:   t.Format(dateLayout),
		Weekly:  monday.Format(dateLayout),
		Monthly: t.Format("2006-01") + "-01",
		ISOWeek: fmt.Sprintf("%d-%02d", year, week),
	}
}

// Returns the bucket key of the given scope type
func (s Set) Key(t Type) string {
	switch t {
	case Daily:
		return s.Daily
	case Weekly:
		return s.Weekly
	case Monthly:
		return s.Monthly
	case AllTime:
		return AllTimeKey
	default:
		return ""
	}
}

// ParseType validates a user supplied rollup name. The all-time scope is not
// a rollup and is rejected.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.TrimSpace(s)); t {
	case Daily, Weekly, Monthly:
		return t, nil
	default:
		return "", fmt.Errorf("invalid period type %q", s)
	}
}

// Past returns the start keys of the last limit periods of type t, most
// recent first, beginning with the period that contains now.
func Past(t Type, limit int, now time.Time) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	current := For(now)
	start, err := time.Parse(dateLayout, current.Key(t))
	if err != nil {
		return nil, fmt.Errorf("invalid period type %q", t)
	}

	keys := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		keys = append(keys, start.Format(dateLayout))

		switch t {
		case Daily:
			start = start.AddDate(0, 0, -1)
		case Weekly:
			start = start.AddDate(0, 0, -7)
		case Monthly:
			// start is always the 1st, so this never normalizes into the wrong month
			start = start.AddDate(0, -1, 0)
		}
	}

	return keys, nil
}
