package loadbalancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var providers = []string{"https://a.example", "https://b.example", "https://c.example"}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "round_robin"},
		{"round-robin", "round_robin"},
		{"round_robin", "round_robin"},
		{"random", "random"},
		{"least-connection", "least_connections"},
		{"least_connections", "least_connections"},
	}

	for _, tt := range tests {
		s, err := NewStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, s.Name())
	}

	_, err := NewStrategy("weighted")
	assert.Error(t, err)
}

func TestEmptyTargets(t *testing.T) {
	for _, s := range []Strategy{NewRoundRobin(), NewRandom(), NewLeastConnections()} {
		assert.Empty(t, s.Next(nil), s.Name())
	}
}

func TestRoundRobin(t *testing.T) {
	rr := NewRoundRobin()

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, rr.Next(providers))
	}
	assert.Equal(t, []string{providers[0], providers[1], providers[2], providers[0]}, got)
}

func TestRoundRobin_Concurrent(t *testing.T) {
	rr := NewRoundRobin()
	counts := make(map[string]int)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := rr.Next(providers)
			mu.Lock()
			counts[target]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, p := range providers {
		assert.Equal(t, 100, counts[p], p)
	}
}

func TestRandom_StaysWithinTargets(t *testing.T) {
	r := NewRandom()
	for i := 0; i < 50; i++ {
		assert.Contains(t, providers, r.Next(providers))
	}
}

func TestLeastConnections(t *testing.T) {
	lc := NewLeastConnections()
	var _ Tracker = lc

	assert.Equal(t, providers[0], lc.Next(providers))

	lc.Acquire(providers[0])
	assert.Equal(t, providers[1], lc.Next(providers))

	lc.Acquire(providers[1])
	lc.Acquire(providers[1])
	assert.Equal(t, providers[2], lc.Next(providers))

	lc.Acquire(providers[2])
	lc.Release(providers[1])
	lc.Release(providers[1])
	assert.Equal(t, providers[1], lc.Next(providers))
	assert.Zero(t, lc.InFlight(providers[1]))

	// Releasing an idle target is a no-op
	lc.Release(providers[1])
	assert.Zero(t, lc.InFlight(providers[1]))
	assert.Equal(t, 1, lc.InFlight(providers[0]))
}
