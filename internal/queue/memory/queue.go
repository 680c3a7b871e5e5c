// Package memory provides the in-process job queue used by single-node
// deployments, where submit and crawl run in the same binary.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/akarpov/tender-harvester/internal/crawler"
)

// Queue hands submitted crawl jobs to the worker pool over a bounded
// channel. A full queue makes Enqueue block, which pushes back on the submit
// endpoint instead of accepting jobs that would only pile up.
type Queue struct {
	ch      chan crawler.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity pending jobs.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawler.QueueItem, capacity),
	}
}

// Enqueue hands a submitted job to the pool, or gives up when the context
// ends while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue job %s canceled: %w", item.JobID, ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue blocks for the next submitted job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawler.QueueItem{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown. Jobs already queued are
// still delivered to workers; new submissions are rejected by the channel.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
