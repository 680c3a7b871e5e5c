package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akarpov/tender-harvester/internal/crawler"
	memoryqueue "github.com/akarpov/tender-harvester/internal/queue/memory"
)

func TestDispatcher_EnqueueProxiesToQueue(t *testing.T) {
	t.Parallel()

	queue := memoryqueue.NewQueue(1)
	d := New(queue, nil)

	require.NoError(t, d.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1"}))
	item, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
}

func TestDispatcher_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	d := New(memoryqueue.NewQueue(1), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
