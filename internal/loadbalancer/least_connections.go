package loadbalancer

import "sync"

// LeastConnections picks the target with the fewest calls in flight, the
// earliest one on ties
type LeastConnections struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{inFlight: make(map[string]int)}
}

func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := targets[0]
	for _, target := range targets[1:] {
		if l.inFlight[target] < l.inFlight[selected] {
			selected = target
		}
	}

	return selected
}

func (l *LeastConnections) Acquire(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight[target]++
}

func (l *LeastConnections) Release(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight[target] > 1 {
		l.inFlight[target]--
		return
	}
	delete(l.inFlight, target)
}

// Number of calls in flight to target
func (l *LeastConnections) InFlight(target string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[target]
}

func (l *LeastConnections) Name() string {
	return LeastConnectionsStrategy
}
