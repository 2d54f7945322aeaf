// Package dedupe tracks normalized URLs already dispatched within a run so
// no target is ever fetched twice concurrently.
package dedupe

import (
	"context"
	"sync"
)

// Memory is the in-process index: a mutex-guarded set with test-and-insert
// semantics.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemory creates an empty index.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// FirstSeen atomically inserts the URL and reports whether it was new.
func (m *Memory) FirstSeen(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[url]; ok {
		return false, nil
	}
	m.seen[url] = struct{}{}
	return true, nil
}

// Len returns the number of URLs recorded.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
