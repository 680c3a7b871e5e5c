// Package crawler defines core types shared across subsystems.
package crawler

import (
	"sort"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. Transitions are monotonic:
// pending -> running -> succeeded|failed, and terminal states never change.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobParameters captures per-job knobs requested by the client.
type JobParameters struct {
	// TargetCount is the number of tenders to extract. It sizes the listing
	// scan; a non-positive count scans no pages and yields an empty run.
	TargetCount int    `json:"target_count"`
	OutputFile  string `json:"output_file"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ResultURI  string        `json:"result_uri,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job crawl stats.
type JobCounters struct {
	PagesScanned    int `json:"pages_scanned"`
	LinksDiscovered int `json:"links_discovered"`
	Records         int `json:"records"`
	EmptyRecords    int `json:"empty_records"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string        `json:"job_id"`
	Params    JobParameters `json:"params"`
	Submitted int64         `json:"submitted"`
}

// TenderLink is a discovered detail-page URL in listing order.
type TenderLink string

// TenderRecord is a sparse mapping from field name to a string or int value.
// Any field may be legitimately absent; an empty record stands for a fully
// failed extraction and still counts as one row in the output.
type TenderRecord map[string]any

// Field names used as CSV columns. They match the source site's labels so the
// output is directly readable next to the listing.
const (
	FieldTitle        = "Тендер"
	FieldSourceURL    = "Ссылка"
	FieldPrice        = "Начальная цена, руб."
	FieldPlace        = "Место поставки"
	FieldOrganizer    = "Организатор закупки"
	FieldDeadline     = "Окончание"
	FieldPlacement    = "Способ размещения"
	FieldRequirements = "Требования и преимущества"
	FieldSector       = "Отрасль"
	FieldSourceLinks  = "Ссылки на источники"
)

// FieldUnion returns the sorted set-union of field names across records.
// This is the output table schema: a field present in a single record still
// appears in the header.
func FieldUnion(records []TenderRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
