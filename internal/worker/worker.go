// Package worker implements the crawl job execution loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/metrics"
	"github.com/akarpov/tender-harvester/internal/pipeline"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives job completion events; empty disables publishing.
	Topic string
}

// Worker consumes queue items and executes the crawl pipeline, owning every
// job status transition after submission.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	runner    *pipeline.Runner
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	runner *pipeline.Runner,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		runner:    runner,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	// A failed RUNNING write must not strand the job in PENDING: run anyway
	// so the terminal write still gives pollers an outcome.
	if err := w.jobStore.UpdateJobStatus(
		ctx, item.JobID, crawler.JobStatusRunning, "", "", crawler.JobCounters{},
	); err != nil {
		w.logger.Error("job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}

	uri, counters, runErr := w.runner.Run(ctx, item.Params)

	status := crawler.JobStatusSucceeded
	errText := ""
	if runErr != nil {
		status = crawler.JobStatusFailed
		errText = runErr.Error()
		uri = ""
	}

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, uri, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	w.logger.Info("job finished",
		zap.String("job_id", item.JobID),
		zap.String("status", string(status)),
		zap.String("result_uri", uri),
		zap.Int("records", counters.Records),
	)

	w.publishCompletion(ctx, item.JobID, status, uri, counters)
}

// publishCompletion emits a terminal-status event. Publish failures are
// logged and never affect the recorded job outcome.
func (w *Worker) publishCompletion(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	uri string,
	counters crawler.JobCounters,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":     jobID,
		"status":     string(status),
		"result_uri": uri,
		"records":    counters.Records,
		"timestamp":  w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("completion publish failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
