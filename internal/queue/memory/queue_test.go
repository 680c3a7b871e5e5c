package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akarpov/tender-harvester/internal/crawler"
)

func TestQueue_EnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(2)
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: "a"}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: "b"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first.JobID)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", second.JobID)
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, crawler.QueueItem{JobID: "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_DequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	require.NotPanics(t, q.Close)

	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}
