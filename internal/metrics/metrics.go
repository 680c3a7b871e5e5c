// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	listingPagesTotal      *prometheus.CounterVec
	fetchRetriesTotal      prometheus.Counter
	tendersExtractedTotal  *prometheus.CounterVec
	jobsTotal              *prometheus.CounterVec
	activeWorkers          prometheus.Gauge
	recordsExportedLastRun prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderd_listing_pages_total",
				Help: "Listing pages scanned, labeled by outcome (ok, fetch_error, no_container).",
			},
			[]string{"outcome"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tenderd_fetch_retries_total",
				Help: "Fetch attempts beyond the first, across listing and detail pages.",
			},
		)

		tendersExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderd_tenders_extracted_total",
				Help: "Tender records produced, labeled by outcome (ok, empty).",
			},
			[]string{"outcome"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenderd_jobs_total",
				Help: "Jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderd_active_workers",
				Help: "Workers currently executing a job.",
			},
		)

		recordsExportedLastRun = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenderd_records_exported_last_run",
				Help: "Rows written by the most recent export.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveListingPage counts one scanned listing page.
func ObserveListingPage(outcome string) {
	if listingPagesTotal != nil {
		listingPagesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveFetchRetry counts one retried fetch attempt.
func ObserveFetchRetry() {
	if fetchRetriesTotal != nil {
		fetchRetriesTotal.Inc()
	}
}

// ObserveTender counts one produced record.
func ObserveTender(outcome string) {
	if tendersExtractedTotal != nil {
		tendersExtractedTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveJob counts one terminal job status.
func ObserveJob(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// SetRecordsExported records the row count of the latest export.
func SetRecordsExported(n int) {
	if recordsExportedLastRun != nil {
		recordsExportedLastRun.Set(float64(n))
	}
}
