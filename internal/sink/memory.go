// Package sink provides Record destinations: local files, Postgres,
// Pub/Sub, and fan-out composition.
package sink

import (
	"context"
	"sync"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// Memory buffers records in process. Useful for tests and the probe
// command.
type Memory struct {
	mu      sync.Mutex
	records []engine.Record
	accepts int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Accept(_ context.Context, records []engine.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	m.accepts++
	return nil
}

// Records returns a copy of everything accepted so far.
func (m *Memory) Records() []engine.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Accepts reports how many Accept calls were made.
func (m *Memory) Accepts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepts
}

func (m *Memory) Close() error { return nil }
