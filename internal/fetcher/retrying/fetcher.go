// Package retrying decorates a Fetcher with the bounded fixed-delay retry
// policy shared by listing-page and detail-page fetches.
package retrying

import (
	"context"

	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/metrics"
)

// Fetcher wraps an inner Fetcher and retries transient failures. After
// exhausting attempts the last underlying error is returned; the caller
// decides whether a terminal failure skips a page or yields an empty record.
type Fetcher struct {
	inner  crawler.Fetcher
	policy crawler.RetryPolicy
	logger *zap.Logger
}

// New builds a retrying Fetcher.
func New(inner crawler.Fetcher, policy crawler.RetryPolicy, logger *zap.Logger) *Fetcher {
	return &Fetcher{inner: inner, policy: policy, logger: logger}
}

// Fetch runs the inner fetch under the retry policy.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	attempt := 0
	return crawler.DoWithRetry(ctx, f.policy, func(ctx context.Context) (crawler.FetchResponse, error) {
		attempt++
		if attempt > 1 {
			metrics.ObserveFetchRetry()
		}
		resp, err := f.inner.Fetch(ctx, request)
		if err != nil {
			f.logger.Warn("fetch attempt failed",
				zap.String("url", request.URL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return resp, err
	})
}
