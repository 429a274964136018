package models

import "sort"

type EventType string

const (
	EventSwap     EventType = "swap"
	EventLending  EventType = "lending"
	EventEarn     EventType = "earn"
	EventEntrance EventType = "entrance"
)

// EventSpec describes how one business event moves the counters
type EventSpec struct {
	Type EventType

	// Sort key prefix of the per-user audit record, empty for entrances
	RecordPrefix string

	// Sort key prefix of the breakdown counters and the separator between
	// the two dimension values
	BreakdownPrefix string
	BreakdownSep    string

	// Payload fields holding the two breakdown dimensions
	FirstDimension  string
	SecondDimension string

	// GENERAL counter and user-stats counter incremented per event
	CountField     string
	UserCountField string

	XP int64

	Required []string
}

// Whether the event is attributed to a user
func (s EventSpec) HasUser() bool {
	return s.RecordPrefix != ""
}

var eventSpecs = map[EventType]EventSpec{
	EventSwap: {
		Type:            EventSwap,
		RecordPrefix:    "SWAP",
		BreakdownPrefix: "SWAP",
		BreakdownSep:    ",",
		FirstDimension:  "source_chain",
		SecondDimension: "destination_chain",
		CountField:      FieldSwapCount,
		UserCountField:  FieldTotalSwapCount,
		XP:              50,
		Required: []string{
			"user_address",
			"tx_hash",
			"protocol",
			"swap_provider",
			"source_chain",
			"source_token_address",
			"source_token_symbol",
			"amount_in",
			"destination_chain",
			"destination_token_address",
			"destination_token_symbol",
			"amount_out",
			"timestamp",
		},
	},
	EventLending: {
		Type:            EventLending,
		RecordPrefix:    "LEND",
		BreakdownPrefix: "LENDING",
		BreakdownSep:    "#",
		FirstDimension:  "chain",
		SecondDimension: "market_name",
		CountField:      FieldLendingCount,
		UserCountField:  FieldTotalLendingCount,
		XP:              100,
		Required: []string{
			"user_address",
			"tx_hash",
			"protocol",
			"action",
			"chain",
			"market_name",
			"token_address",
			"token_symbol",
			"amount",
			"timestamp",
		},
	},
	EventEarn: {
		Type:            EventEarn,
		RecordPrefix:    "EARN",
		BreakdownPrefix: "EARN",
		BreakdownSep:    "#",
		FirstDimension:  "chain",
		SecondDimension: "protocol",
		CountField:      FieldEarnCount,
		UserCountField:  FieldTotalEarnCount,
		XP:              100,
		Required: []string{
			"user_address",
			"tx_hash",
			"protocol",
			"action",
			"chain",
			"vault_name",
			"vault_address",
			"token_address",
			"token_symbol",
			"amount",
			"timestamp",
		},
	},
	EventEntrance: {
		Type:       EventEntrance,
		CountField: FieldDappEntrances,
	},
}

func LookupEvent(t EventType) (EventSpec, bool) {
	spec, ok := eventSpecs[t]
	return spec, ok
}

// Lists the events that carry a breakdown dimension, in a stable order
func BreakdownEvents() []EventSpec {
	specs := make([]EventSpec, 0, len(eventSpecs))
	for _, spec := range eventSpecs {
		if spec.BreakdownPrefix != "" {
			specs = append(specs, spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}
