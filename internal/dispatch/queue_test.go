package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(8)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, engine.WorkItem{URL: "https://a.example/1"}))
	require.NoError(t, q.Enqueue(ctx, engine.WorkItem{URL: "https://a.example/2"}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://a.example/1", item.URL)
	item, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://a.example/2", item.URL)
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, engine.WorkItem{URL: "https://a.example/1"}))
	q.Close()
	q.Close() // idempotent

	// The parked item drains, then Dequeue reports closed.
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueTryDequeue(t *testing.T) {
	q := NewQueue(1)
	_, ok := q.TryDequeue()
	require.False(t, ok)

	require.NoError(t, q.Enqueue(context.Background(), engine.WorkItem{URL: "https://a.example/1"}))
	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "https://a.example/1", item.URL)
}
