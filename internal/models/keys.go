package models

import (
	"fmt"
	"strings"

	"github.com/altverseweb3/backend/internal/periods"
)

const (
	GeneralSK   = "GENERAL"
	StatsSK     = "STATS"
	GlobalScope = "GLOBAL"

	scopePrefix       = "STAT"
	userPrefix        = "USER"
	leaderboardPrefix = "LEADERBOARD"
)

// Scope is the aggregation bucket a counter belongs to, encoded as
// STAT#<type>#<start>
type Scope struct {
	Type  periods.Type
	Start string
}

func AllTime() Scope {
	return Scope{Type: periods.AllTime, Start: periods.AllTimeKey}
}

func PeriodScope(t periods.Type, start string) Scope {
	return Scope{Type: t, Start: start}
}

func (s Scope) String() string {
	return scopePrefix + "#" + string(s.Type) + "#" + s.Start
}

func ParseScope(pk string) (Scope, error) {
	parts := strings.SplitN(pk, "#", 3)
	if len(parts) != 3 || parts[0] != scopePrefix || parts[1] == "" || parts[2] == "" {
		return Scope{}, fmt.Errorf("invalid scope key %q", pk)
	}

	return Scope{Type: periods.Type(parts[1]), Start: parts[2]}, nil
}

// BreakdownKey identifies a per-dimension counter within a scope, e.g.
// SWAP#eth,arb or LENDING#eth#usdc-market. The second dimension may contain
// the separator, the first may not.
type BreakdownKey struct {
	Event  EventType
	First  string
	Second string
}

func (k BreakdownKey) String() string {
	spec, ok := LookupEvent(k.Event)
	if !ok || spec.BreakdownPrefix == "" {
		return ""
	}
	return spec.BreakdownPrefix + "#" + k.First + spec.BreakdownSep + k.Second
}

// Returns both dimensions joined the way they appear in the sort key
func (k BreakdownKey) Dimension() string {
	spec, _ := LookupEvent(k.Event)
	return k.First + spec.BreakdownSep + k.Second
}

func ParseBreakdownKey(sk string) (BreakdownKey, error) {
	prefix, rest, ok := strings.Cut(sk, "#")
	if !ok {
		return BreakdownKey{}, fmt.Errorf("invalid breakdown key %q", sk)
	}

	for _, spec := range BreakdownEvents() {
		if spec.BreakdownPrefix != prefix {
			continue
		}

		// Dimension values never contain the separator, so exactly two parts
		parts := strings.Split(rest, spec.BreakdownSep)
		if len(parts) != 2 || parts[0] == "" {
			return BreakdownKey{}, fmt.Errorf("invalid %s breakdown key %q", spec.Type, sk)
		}
		return BreakdownKey{Event: spec.Type, First: parts[0], Second: parts[1]}, nil
	}

	return BreakdownKey{}, fmt.Errorf("unknown breakdown prefix in %q", sk)
}

// Returns the breakdown sort key prefix used to range-read one event type
func BreakdownPrefix(t EventType) string {
	spec, ok := LookupEvent(t)
	if !ok || spec.BreakdownPrefix == "" {
		return ""
	}
	return spec.BreakdownPrefix + "#"
}

func UserPK(address string) string {
	return userPrefix + "#" + address
}

// Audit record sort key, <prefix>#<timestamp>#<tx hash>
func EventSK(prefix, timestamp, txHash string) string {
	return prefix + "#" + timestamp + "#" + txHash
}

func LeaderboardPK(isoWeek string) string {
	return leaderboardPrefix + "#" + isoWeek
}

func LeaderboardSK(address string) string {
	return userPrefix + "#" + address
}
