package circuitbreaker

import "encoding/json"

type State int

const (
	// Calls pass through
	StateClosed State = iota

	// Calls fail fast with ErrCircuitOpen
	StateOpen

	// Probe calls are let through to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
