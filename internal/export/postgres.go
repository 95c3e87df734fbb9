package export

import (
	"context"
	"fmt"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// RecordWriter persists a run's records, e.g. storage/postgres.RecordStore.
type RecordWriter interface {
	StoreRecords(ctx context.Context, runID string, dataset map[string][]crawler.Record) (int, error)
}

// PostgresExporter writes records as rows through a RecordWriter.
type PostgresExporter struct {
	writer RecordWriter
	table  string
}

// NewPostgresExporter creates a PostgresExporter. table is only used for reporting.
func NewPostgresExporter(writer RecordWriter, table string) *PostgresExporter {
	return &PostgresExporter{writer: writer, table: table}
}

// Format implements Exporter.
func (e *PostgresExporter) Format() string { return "postgres" }

// Export implements Exporter.
func (e *PostgresExporter) Export(ctx context.Context, run Run) ([]string, error) {
	rows, err := e.writer.StoreRecords(ctx, run.ID, run.Dataset)
	if err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}
	return []string{fmt.Sprintf("postgres://%s?run_id=%s&rows=%d", e.table, run.ID, rows)}, nil
}
