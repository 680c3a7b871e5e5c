// Package export serializes tender records into the tabular output artifact.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/metrics"
)

const contentType = "text/csv; charset=utf-8"

// Writer aggregates records into a CSV and persists it through a BlobStore.
type Writer struct {
	store  crawler.BlobStore
	logger *zap.Logger
}

// New builds a Writer.
func New(store crawler.BlobStore, logger *zap.Logger) *Writer {
	return &Writer{store: store, logger: logger}
}

// Write renders records as CSV and stores the result at destination,
// returning the artifact URI. The header is the sorted union of field names
// across all records; absent fields render as empty cells. An empty record
// list is a warned no-op, but a storage failure is returned to the caller: a
// job whose output cannot be retrieved must not look successful.
//
// The output is deterministic: the same record list always produces
// byte-identical CSV.
func (w *Writer) Write(ctx context.Context, records []crawler.TenderRecord, destination string) (string, error) {
	if len(records) == 0 {
		w.logger.Warn("no records to export", zap.String("destination", destination))
		return "", nil
	}

	header := crawler.FieldUnion(records)

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(header))
	for _, rec := range records {
		for i, field := range header {
			row[i] = renderValue(rec[field])
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	uri, err := w.store.PutObject(ctx, destination, contentType, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("store output %q: %w", destination, err)
	}

	metrics.SetRecordsExported(len(records))
	w.logger.Info("export written",
		zap.String("uri", uri),
		zap.Int("records", len(records)),
		zap.Int("fields", len(header)),
	)
	return uri, nil
}

// renderValue formats a record value for one CSV cell. Records are sparse:
// a missing key arrives here as nil and renders empty.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}
