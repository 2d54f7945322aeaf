package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// ErrQueueClosed is returned by Dequeue once the run has drained.
var ErrQueueClosed = errors.New("work queue closed")

// Queue is the bounded FIFO work queue shared by all workers. Re-enqueues
// (retries, pagination follow-ups) go through the same channel as seeds.
type Queue struct {
	ch        chan engine.WorkItem
	closeOnce sync.Once
}

// NewQueue builds a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{ch: make(chan engine.WorkItem, capacity)}
}

// Enqueue pushes an item, or fails when the context ends first.
func (q *Queue) Enqueue(ctx context.Context, item engine.WorkItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting cancellation and close.
func (q *Queue) Dequeue(ctx context.Context) (engine.WorkItem, error) {
	select {
	case <-ctx.Done():
		return engine.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return engine.WorkItem{}, ErrQueueClosed
		}
		return item, nil
	}
}

// TryDequeue pops without blocking.
func (q *Queue) TryDequeue() (engine.WorkItem, bool) {
	select {
	case item, ok := <-q.ch:
		if !ok {
			return engine.WorkItem{}, false
		}
		return item, true
	default:
		return engine.WorkItem{}, false
	}
}

// Close marks the run complete. Only called once every item has reached a
// terminal state, so no enqueue can race it.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.ch)
	})
}
