package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

var provenanceColumns = []string{"site", "item_index", "captured_at", "source_url"}

// CSVExporter writes one CSV file per site with records.
type CSVExporter struct {
	store crawler.BlobStore
}

// NewCSVExporter creates a CSVExporter.
func NewCSVExporter(store crawler.BlobStore) *CSVExporter {
	return &CSVExporter{store: store}
}

// Format implements Exporter.
func (e *CSVExporter) Format() string { return "csv" }

// Export implements Exporter. Sites without records produce no file.
func (e *CSVExporter) Export(ctx context.Context, run Run) ([]string, error) {
	var uris []string
	for _, site := range nonEmptySites(run.Dataset) {
		data, err := encodeCSV(run.Dataset[site])
		if err != nil {
			return uris, fmt.Errorf("encode %s: %w", site, err)
		}
		name := fmt.Sprintf("scraped_%s_%s.csv", SafeName(site), run.Stamp())
		uri, err := e.store.PutObject(ctx, name, "text/csv", bytes.NewReader(data))
		if err != nil {
			return uris, fmt.Errorf("store %s: %w", name, err)
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func encodeCSV(records []crawler.Record) ([]byte, error) {
	columns := fieldColumns(records)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(append([]string(nil), provenanceColumns...), columns...)); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Site(),
			strconv.Itoa(rec.Index()),
			rec.CapturedAt().Format(time.RFC3339Nano),
			rec.SourceURL(),
		}
		for _, col := range columns {
			cell := ""
			if v, ok := rec.Get(col); ok {
				cell, _ = v.Flatten(ListSeparator)
			}
			row = append(row, cell)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", rec.Index(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
