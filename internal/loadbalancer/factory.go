package loadbalancer

import (
	"fmt"
	"strings"
)

// Strategy names accepted in provider config. Dashes may stand in for
// underscores.
const (
	RoundRobinStrategy       = "round_robin"
	RandomStrategy           = "random"
	LeastConnectionsStrategy = "least_connections"
)

// Builds the provider selection strategy of a network. Empty selects round
// robin.
func NewStrategy(name string) (Strategy, error) {
	switch strings.ReplaceAll(strings.TrimSpace(name), "-", "_") {
	case "", RoundRobinStrategy:
		return NewRoundRobin(), nil
	case RandomStrategy:
		return NewRandom(), nil
	case LeastConnectionsStrategy, "least_connection":
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", name)
	}
}
