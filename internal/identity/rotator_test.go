package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

func testPool() []PoolEntry {
	return []PoolEntry{
		{Identity: engine.Identity{Proxy: "http://p1.example:8080", UserAgent: "ua-1"}},
		{Identity: engine.Identity{Proxy: "http://p2.example:8080", UserAgent: "ua-2"}},
		{Identity: engine.Identity{Proxy: "http://p3.example:8080", UserAgent: "ua-3"}},
	}
}

func TestNewRejectsEmptyPool(t *testing.T) {
	_, err := New(nil, Config{})
	require.Error(t, err)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New(testPool(), Config{Policy: "sticky"})
	require.Error(t, err)
}

func TestRoundRobinOrder(t *testing.T) {
	r, err := New(testPool(), Config{Policy: PolicyRoundRobin})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, r.Next().UserAgent)
	}
	require.Equal(t, []string{"ua-1", "ua-2", "ua-3", "ua-1", "ua-2", "ua-3"}, got)
}

func TestRandomDrawsFromWholePool(t *testing.T) {
	r, err := New(testPool(), Config{Policy: PolicyRandom, Seed: 42})
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[r.Next().UserAgent] = true
	}
	require.Len(t, seen, 3)
}

func TestWeightedFavorsHeavyEntry(t *testing.T) {
	pool := []PoolEntry{
		{Identity: engine.Identity{UserAgent: "heavy"}, Weight: 9},
		{Identity: engine.Identity{UserAgent: "light"}, Weight: 1},
	}
	r, err := New(pool, Config{Policy: PolicyWeighted, Seed: 7})
	require.NoError(t, err)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[r.Next().UserAgent]++
	}
	require.Greater(t, counts["heavy"], counts["light"]*3)
}

func TestReportFailureDisablesIdentity(t *testing.T) {
	r, err := New(testPool(), Config{Policy: PolicyRoundRobin, MaxFailures: 2})
	require.NoError(t, err)
	bad := engine.Identity{Proxy: "http://p2.example:8080", UserAgent: "ua-2"}

	r.ReportFailure(bad)
	require.Equal(t, 3, r.Alive())
	r.ReportFailure(bad)
	require.Equal(t, 2, r.Alive())

	for i := 0; i < 10; i++ {
		require.NotEqual(t, "ua-2", r.Next().UserAgent)
	}
}

func TestReportSuccessResetsFailureStreak(t *testing.T) {
	r, err := New(testPool(), Config{MaxFailures: 2})
	require.NoError(t, err)
	id := engine.Identity{Proxy: "http://p1.example:8080", UserAgent: "ua-1"}

	r.ReportFailure(id)
	r.ReportSuccess(id)
	r.ReportFailure(id)
	require.Equal(t, 3, r.Alive())
}

func TestAllDisabledRevivesPool(t *testing.T) {
	r, err := New(testPool(), Config{MaxFailures: 1})
	require.NoError(t, err)
	for _, p := range testPool() {
		r.ReportFailure(p.Identity)
	}
	require.Equal(t, 0, r.Alive())

	// Next must still hand out an identity and the pool comes back.
	id := r.Next()
	require.NotEmpty(t, id.UserAgent)
	require.Equal(t, 3, r.Alive())
}

func TestDefaultPool(t *testing.T) {
	pool := DefaultPool()
	require.NotEmpty(t, pool)
	for _, p := range pool {
		require.Empty(t, p.Identity.Proxy)
		require.NotEmpty(t, p.Identity.UserAgent)
	}
}
