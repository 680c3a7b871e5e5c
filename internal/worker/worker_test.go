package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/discovery"
	"github.com/akarpov/tender-harvester/internal/export"
	"github.com/akarpov/tender-harvester/internal/extract"
	"github.com/akarpov/tender-harvester/internal/pipeline"
	memorystorage "github.com/akarpov/tender-harvester/internal/storage/memory"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}

type fakeJobStore struct {
	mu          sync.Mutex
	jobs        map[string]crawler.Job
	hist        []crawler.JobStatus
	failRunning bool
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]crawler.Job)}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	resultURI, errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRunning && status == crawler.JobStatusRunning {
		return errors.New("store unavailable")
	}
	job := s.jobs[jobID]
	job.ID = jobID
	job.Status = status
	job.ResultURI = resultURI
	job.ErrorText = errText
	job.Counters = counters
	s.jobs[jobID] = job
	s.hist = append(s.hist, status)
	return nil
}

func (s *fakeJobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return job, nil
}

func (s *fakeJobStore) lastStatus() crawler.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.hist) == 0 {
		return ""
	}
	return s.hist[len(s.hist)-1]
}

func (s *fakeJobStore) history() []crawler.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.JobStatus(nil), s.hist...)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, payload)
	return "msg-1", nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	listing []byte
	detail  []byte
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	body := f.detail
	if _, ok := req.Params["page"]; ok {
		body = f.listing
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: body}, nil
}

func newTestRunner(fetcher crawler.Fetcher, store crawler.BlobStore) *pipeline.Runner {
	logger := zap.NewNop()
	disc := discovery.New(fetcher, discovery.Config{
		BaseURL:     "https://rostender.info",
		ListingPath: "/extsearch",
		PageSize:    20,
	}, logger)
	return pipeline.New(disc, fetcher, extract.New(logger), export.New(store, logger), logger)
}

const listingPage = `<html><body><div class="table-body">
  <a class="description tender-info__description tender-info__link" href="/tender/1">t</a>
</div></body></html>`

const detailPage = `<html><body><h1>Тендер: Поставка бумаги</h1></body></html>`

func TestWorker_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{
		JobID:  "job-1",
		Params: crawler.JobParameters{TargetCount: 1, OutputFile: "tenders.csv"},
	}}}
	jobStore := newFakeJobStore()
	publisher := &fakePublisher{}
	store := memorystorage.NewBlobStore()
	fetcher := &fakeFetcher{listing: []byte(listingPage), detail: []byte(detailPage)}

	w := New(
		queue, jobStore, newTestRunner(fetcher, store), publisher,
		&fakeClock{now: time.Unix(100, 0)}, Config{Topic: "jobs.completed"}, zap.NewNop(),
	)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []crawler.JobStatus{
		crawler.JobStatusRunning,
		crawler.JobStatusSucceeded,
	}, jobStore.history())

	job, err := jobStore.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "mem://tenders.csv", job.ResultURI)
	require.Empty(t, job.ErrorText)
	require.Equal(t, 1, job.Counters.Records)
	require.Equal(t, 1, publisher.count())
}

func TestWorker_WriteFailureFailsJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{
		JobID:  "job-2",
		Params: crawler.JobParameters{TargetCount: 1, OutputFile: "tenders.csv"},
	}}}
	jobStore := newFakeJobStore()
	fetcher := &fakeFetcher{listing: []byte(listingPage), detail: []byte(detailPage)}

	w := New(
		queue, jobStore, newTestRunner(fetcher, failingBlobStore{}), &fakePublisher{},
		&fakeClock{now: time.Unix(100, 0)}, Config{Topic: "jobs.completed"}, zap.NewNop(),
	)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusFailed
	}, time.Second, 10*time.Millisecond)

	job, err := jobStore.GetJob(ctx, "job-2")
	require.NoError(t, err)
	require.Empty(t, job.ResultURI)
	require.Contains(t, job.ErrorText, "quota exceeded")
}

func TestWorker_RunningUpdateFailureStillReachesTerminalState(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{
		JobID:  "job-4",
		Params: crawler.JobParameters{TargetCount: 1, OutputFile: "tenders.csv"},
	}}}
	jobStore := newFakeJobStore()
	jobStore.failRunning = true
	fetcher := &fakeFetcher{listing: []byte(listingPage), detail: []byte(detailPage)}

	w := New(
		queue, jobStore, newTestRunner(fetcher, memorystorage.NewBlobStore()), &fakePublisher{},
		&fakeClock{now: time.Unix(100, 0)}, Config{Topic: "jobs.completed"}, zap.NewNop(),
	)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []crawler.JobStatus{crawler.JobStatusSucceeded}, jobStore.history())
}

func TestWorker_PublishFailureDoesNotAffectOutcome(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{items: []crawler.QueueItem{{
		JobID:  "job-3",
		Params: crawler.JobParameters{TargetCount: 1, OutputFile: "tenders.csv"},
	}}}
	jobStore := newFakeJobStore()
	publisher := &fakePublisher{err: errors.New("topic gone")}
	fetcher := &fakeFetcher{listing: []byte(listingPage), detail: []byte(detailPage)}

	w := New(
		queue, jobStore, newTestRunner(fetcher, memorystorage.NewBlobStore()), publisher,
		&fakeClock{now: time.Unix(100, 0)}, Config{Topic: "jobs.completed"}, zap.NewNop(),
	)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("quota exceeded")
}
