// Package pipeline sequences discovery, extraction and export for one job.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/discovery"
	"github.com/akarpov/tender-harvester/internal/export"
	"github.com/akarpov/tender-harvester/internal/extract"
	"github.com/akarpov/tender-harvester/internal/metrics"
)

// Runner executes one crawl-and-extract run to completion.
type Runner struct {
	discoverer *discovery.Discoverer
	fetcher    crawler.Fetcher
	extractor  *extract.Extractor
	writer     *export.Writer
	logger     *zap.Logger
}

// New builds a Runner. The fetcher is used for detail pages and is expected
// to carry its own retry policy.
func New(
	discoverer *discovery.Discoverer,
	fetcher crawler.Fetcher,
	extractor *extract.Extractor,
	writer *export.Writer,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		discoverer: discoverer,
		fetcher:    fetcher,
		extractor:  extractor,
		writer:     writer,
		logger:     logger,
	}
}

// Run discovers detail links, truncates them to the target count when it is
// positive, extracts a record per link in discovery order and writes the
// aggregated table. A detail page whose fetch fails terminally contributes
// an empty record so the requested record count stays accounted for.
func (r *Runner) Run(ctx context.Context, params crawler.JobParameters) (string, crawler.JobCounters, error) {
	counters := crawler.JobCounters{
		PagesScanned: r.discoverer.PagesNeeded(params.TargetCount),
	}

	links := r.discoverer.Discover(ctx, params.TargetCount)
	counters.LinksDiscovered = len(links)
	if params.TargetCount > 0 && len(links) > params.TargetCount {
		links = links[:params.TargetCount]
	}

	records := make([]crawler.TenderRecord, 0, len(links))
	for i, link := range links {
		rec := r.processLink(ctx, string(link), i+1, len(links))
		if len(rec) == 0 {
			counters.EmptyRecords++
			metrics.ObserveTender("empty")
		} else {
			metrics.ObserveTender("ok")
		}
		records = append(records, rec)
	}
	counters.Records = len(records)

	uri, err := r.writer.Write(ctx, records, params.OutputFile)
	if err != nil {
		return "", counters, err
	}
	return uri, counters, nil
}

// processLink fetches and extracts one tender. Terminal fetch failures and
// extraction faults both degrade to an empty record; the run continues.
func (r *Runner) processLink(ctx context.Context, url string, idx, total int) crawler.TenderRecord {
	r.logger.Info("processing tender",
		zap.Int("index", idx),
		zap.Int("total", total),
		zap.String("url", url),
	)
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		r.logger.Error("detail page fetch failed terminally",
			zap.Int("index", idx),
			zap.Int("total", total),
			zap.String("url", url),
			zap.Error(err),
		)
		return crawler.TenderRecord{}
	}
	return r.extractor.Extract(resp.Body, url)
}
