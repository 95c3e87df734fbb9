package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// JSONExporter writes every site's records into one JSON object keyed by site.
type JSONExporter struct {
	store crawler.BlobStore
}

// NewJSONExporter creates a JSONExporter.
func NewJSONExporter(store crawler.BlobStore) *JSONExporter {
	return &JSONExporter{store: store}
}

// Format implements Exporter.
func (e *JSONExporter) Format() string { return "json" }

// Export implements Exporter.
func (e *JSONExporter) Export(ctx context.Context, run Run) ([]string, error) {
	dataset := make(map[string][]crawler.Record, len(run.Dataset))
	for site, records := range run.Dataset {
		if records == nil {
			records = []crawler.Record{}
		}
		dataset[site] = records
	}
	data, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal dataset: %w", err)
	}
	name := fmt.Sprintf("scraped_data_%s.json", run.Stamp())
	uri, err := e.store.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	return []string{uri}, nil
}
