// Package identity supplies the per-request (proxy, user-agent) pair from a
// rotation policy and tracks per-identity health.
package identity

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/metrics"
)

// Policy names a rotation strategy.
type Policy string

// Supported rotation policies.
const (
	PolicyRoundRobin Policy = "round_robin"
	PolicyRandom     Policy = "random"
	PolicyWeighted   Policy = "weighted"
)

// DefaultUserAgents is used when no identities are configured: rotation over
// realistic desktop browser strings with no proxy.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// PoolEntry configures one identity in the pool.
type PoolEntry struct {
	Identity engine.Identity
	Weight   float64
}

// Config tunes the rotator.
type Config struct {
	Policy Policy
	// MaxFailures consecutive failures disable an identity (weight zeroed)
	// for the remainder of the run.
	MaxFailures int
	// Seed makes the random and weighted draws deterministic in tests.
	// Zero seeds from the wall clock.
	Seed int64
}

type entry struct {
	id         engine.Identity
	baseWeight float64
	weight     float64
	failures   int
	disabled   bool
}

// Rotator hands out identities per request. Assignment is per-request, never
// per work item; a retry of the same URL may use a different identity.
type Rotator struct {
	mu          sync.Mutex
	policy      Policy
	entries     []*entry
	cursor      int
	rng         *rand.Rand
	maxFailures int
}

// New builds a Rotator. An empty pool is a configuration error.
func New(pool []PoolEntry, cfg Config) (*Rotator, error) {
	if len(pool) == 0 {
		return nil, fmt.Errorf("identity pool is empty")
	}
	switch cfg.Policy {
	case PolicyRoundRobin, PolicyRandom, PolicyWeighted:
	case "":
		cfg.Policy = PolicyRoundRobin
	default:
		return nil, fmt.Errorf("unknown rotation policy %q", cfg.Policy)
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	entries := make([]*entry, 0, len(pool))
	for _, p := range pool {
		w := p.Weight
		if w <= 0 {
			w = 1
		}
		entries = append(entries, &entry{id: p.Identity, baseWeight: w, weight: w})
	}

	return &Rotator{
		policy:      cfg.Policy,
		entries:     entries,
		rng:         rand.New(rand.NewSource(seed)),
		maxFailures: cfg.MaxFailures,
	}, nil
}

// DefaultPool builds a proxyless pool over DefaultUserAgents.
func DefaultPool() []PoolEntry {
	pool := make([]PoolEntry, 0, len(DefaultUserAgents))
	for _, ua := range DefaultUserAgents {
		pool = append(pool, PoolEntry{Identity: engine.Identity{UserAgent: ua}})
	}
	return pool
}

// Next returns the identity for the next request. The cursor advance and the
// draws all happen under one lock so concurrent workers never skip or repeat
// a round-robin slot.
func (r *Rotator) Next() engine.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	alive := r.alive()

	switch r.policy {
	case PolicyRandom:
		return alive[r.rng.Intn(len(alive))].id
	case PolicyWeighted:
		return r.drawWeighted(alive).id
	default:
		e := alive[r.cursor%len(alive)]
		r.cursor++
		return e.id
	}
}

// ReportSuccess resets the failure streak for the identity.
func (r *Rotator) ReportSuccess(id engine.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.find(id); e != nil {
		e.failures = 0
	}
}

// ReportFailure counts a proxy-kind failure against the identity; passing the
// failure threshold disables it and zeroes its weight for the run.
func (r *Rotator) ReportFailure(id engine.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.find(id)
	if e == nil || e.disabled {
		return
	}
	e.failures++
	if e.failures >= r.maxFailures {
		e.disabled = true
		e.weight = 0
		metrics.IncIdentitiesDisabled()
	}
}

// Alive reports how many identities are still usable.
func (r *Rotator) Alive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if !e.disabled {
			n++
		}
	}
	return n
}

// alive returns the usable entries, reviving the whole pool when every
// identity has been disabled. Caller holds the lock.
func (r *Rotator) alive() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.disabled {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, e := range r.entries {
		e.disabled = false
		e.failures = 0
		e.weight = e.baseWeight
	}
	return append(out, r.entries...)
}

func (r *Rotator) drawWeighted(alive []*entry) *entry {
	total := 0.0
	for _, e := range alive {
		total += e.weight
	}
	if total <= 0 {
		return alive[r.rng.Intn(len(alive))]
	}
	target := r.rng.Float64() * total
	for _, e := range alive {
		target -= e.weight
		if target < 0 {
			return e
		}
	}
	return alive[len(alive)-1]
}

func (r *Rotator) find(id engine.Identity) *entry {
	for _, e := range r.entries {
		if e.id == id {
			return e
		}
	}
	return nil
}
