package loadbalancer

// Strategy picks the provider URL for the next upstream call
type Strategy interface {
	// Returns "" when targets is empty
	Next(targets []string) string

	Name() string
}

// Tracker is implemented by strategies that need to know when a call to a
// target starts and ends
type Tracker interface {
	Acquire(target string)
	Release(target string)
}
