// Package redis provides a Redis-backed job store, mirroring the result
// backend the service's first deployment used for job state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akarpov/tender-harvester/internal/crawler"
)

// Config captures connection details for the job store.
type Config struct {
	Addr   string
	Prefix string
	TTL    time.Duration
}

// JobStore persists jobs as JSON values keyed by job ID. Updates go through
// a WATCH transaction so the status/result/error triple changes atomically
// even with status polls racing the terminal write.
type JobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewJobStore initializes a Redis-backed JobStore.
func NewJobStore(cfg Config) *JobStore {
	return &JobStore{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

// Close closes the Redis client.
func (s *JobStore) Close() error {
	return s.client.Close()
}

func (s *JobStore) key(jobID string) string {
	return s.prefix + jobID
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(job.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if !ok {
		return errors.New("job already exists")
	}
	return nil
}

// UpdateJobStatus rewrites the job with the new status, result and counters.
// Terminal states are final: further updates are ignored.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	resultURI string,
	errText string,
	counters crawler.JobCounters,
) error {
	key := s.key(jobID)
	txn := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return crawler.ErrJobNotFound
			}
			return fmt.Errorf("load job: %w", err)
		}
		var job crawler.Job
		if err := json.Unmarshal([]byte(val), &job); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}
		if job.Status.Terminal() {
			return nil
		}
		job.Status = status
		job.ResultURI = resultURI
		job.ErrorText = errText
		job.Counters = counters
		now := time.Now().UTC()
		if status == crawler.JobStatusRunning && job.Started == nil {
			job.Started = &now
		}
		if status.Terminal() {
			job.Finished = &now
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}
	if err := s.client.Watch(ctx, txn, key); err != nil {
		return err
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	val, err := s.client.Get(ctx, s.key(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.Job{}, crawler.ErrJobNotFound
		}
		return crawler.Job{}, fmt.Errorf("load job: %w", err)
	}
	var job crawler.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}
