package loadbalancer

import "math/rand/v2"

// Random spreads calls uniformly across providers
type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (r *Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	return targets[rand.IntN(len(targets))]
}

func (r *Random) Name() string {
	return RandomStrategy
}
