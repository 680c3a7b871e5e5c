// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers. Each job runs to
// completion on exactly one worker; jobs never share mutable state beyond
// the job store.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes. Workers
// drain jobs already dequeued before returning, so a shutdown mid-crawl
// still records a terminal job status.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue hands a submitted job to the queue backing the pool.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue job %s: %w", item.JobID, err)
	}
	return nil
}
