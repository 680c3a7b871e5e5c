// Package server assembles the service from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/api"
	"github.com/akarpov/tender-harvester/internal/clock/system"
	"github.com/akarpov/tender-harvester/internal/config"
	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/discovery"
	"github.com/akarpov/tender-harvester/internal/dispatcher"
	"github.com/akarpov/tender-harvester/internal/export"
	"github.com/akarpov/tender-harvester/internal/extract"
	collyfetcher "github.com/akarpov/tender-harvester/internal/fetcher/colly"
	retryingfetcher "github.com/akarpov/tender-harvester/internal/fetcher/retrying"
	"github.com/akarpov/tender-harvester/internal/id/uuid"
	"github.com/akarpov/tender-harvester/internal/metrics"
	"github.com/akarpov/tender-harvester/internal/pipeline"
	memorypublisher "github.com/akarpov/tender-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/akarpov/tender-harvester/internal/publisher/pubsub"
	kafkaqueue "github.com/akarpov/tender-harvester/internal/queue/kafka"
	memoryqueue "github.com/akarpov/tender-harvester/internal/queue/memory"
	gcsstorage "github.com/akarpov/tender-harvester/internal/storage/gcs"
	localstorage "github.com/akarpov/tender-harvester/internal/storage/local"
	memorystorage "github.com/akarpov/tender-harvester/internal/storage/memory"
	redisstorage "github.com/akarpov/tender-harvester/internal/storage/redis"
	"github.com/akarpov/tender-harvester/internal/worker"
)

// App holds the assembled service, ready to run.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	httpServer *http.Server
	dispatcher *dispatcher.Dispatcher
	closers    []func() error
}

// Build wires every subsystem from the configuration. It fails fast: a
// backend that cannot be constructed aborts startup.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}

	queue, err := app.buildQueue(cfg)
	if err != nil {
		return nil, err
	}
	jobStore, err := app.buildJobStore(cfg)
	if err != nil {
		return nil, err
	}
	blobStore, resolver, err := app.buildBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	publisher, topic, err := app.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy := crawler.NewFixedRetryPolicy(cfg.HTTP.MaxAttempts, cfg.RetryDelay())
	base := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	fetcher := retryingfetcher.New(base, policy, logger)

	discoverer := discovery.New(fetcher, discovery.Config{
		BaseURL:     cfg.Crawler.BaseURL,
		ListingPath: cfg.Crawler.ListingPath,
		PageSize:    cfg.Crawler.PageSize,
	}, logger)
	extractor := extract.New(logger)
	writer := export.New(blobStore, logger)
	runner := pipeline.New(discoverer, fetcher, extractor, writer, logger)

	clk := system.New()
	workers := make([]*worker.Worker, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue, jobStore, runner, publisher, clk, worker.Config{Topic: topic}, logger,
		))
	}
	app.dispatcher = dispatcher.New(queue, workers)

	idGen := uuid.New()
	apiServer := api.NewServer(jobStore, app.dispatcher, idGen, clk, resolver, cfg, logger)
	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return app, nil
}

func (a *App) buildQueue(cfg config.Config) (crawler.Queue, error) {
	switch cfg.Queue.Backend {
	case "memory":
		return memoryqueue.NewQueue(cfg.Crawler.QueueDepth), nil
	case "kafka":
		a.logger.Info("using kafka queue",
			zap.String("broker", cfg.Queue.Kafka.Broker),
			zap.String("topic", cfg.Queue.Kafka.Topic),
		)
		q := kafkaqueue.New(kafkaqueue.Config{
			Broker:  cfg.Queue.Kafka.Broker,
			Topic:   cfg.Queue.Kafka.Topic,
			GroupID: cfg.Queue.Kafka.GroupID,
		})
		a.closers = append(a.closers, q.Close)
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Queue.Backend)
	}
}

func (a *App) buildJobStore(cfg config.Config) (crawler.JobStore, error) {
	switch cfg.JobStore.Backend {
	case "memory":
		return memorystorage.NewJobStore(), nil
	case "redis":
		a.logger.Info("using redis job store", zap.String("addr", cfg.JobStore.Redis.Addr))
		s := redisstorage.NewJobStore(redisstorage.Config{
			Addr:   cfg.JobStore.Redis.Addr,
			Prefix: cfg.JobStore.Redis.KeyPrefix,
			TTL:    cfg.JobTTL(),
		})
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown job store backend: %s", cfg.JobStore.Backend)
	}
}

func (a *App) buildBlobStore(
	ctx context.Context, cfg config.Config,
) (crawler.BlobStore, api.TableResolver, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memorystorage.NewBlobStore(), nil, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.Bucket})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// buildPublisher returns a publisher plus the topic name completion events go
// to. An empty Pub/Sub project keeps the in-memory publisher, which is enough
// for single-process deployments.
func (a *App) buildPublisher(
	ctx context.Context, cfg config.Config,
) (crawler.Publisher, string, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), "jobs.completed", nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("init pubsub client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	topic := client.Topic(cfg.PubSub.TopicName)
	a.logger.Info("using pubsub publisher", zap.String("topic", cfg.PubSub.TopicName))
	return pubsubpublisher.New(topic), cfg.PubSub.TopicName, nil
}

// Run starts the worker pool and HTTP server, blocking until the context is
// canceled, then shuts both down gracefully.
func (a *App) Run(ctx context.Context) error {
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatcher.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	<-dispatchDone
	a.close()
	return nil
}

func (a *App) close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}
