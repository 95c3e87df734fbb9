package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// ReportName returns the artifact name for a report built at the report timestamp.
func ReportName(report crawler.CrawlReport) string {
	return fmt.Sprintf("scraping_report_%s.json", report.Timestamp.UTC().Format(TimestampLayout))
}

// SaveReport writes the report as indented JSON and returns its location.
func SaveReport(ctx context.Context, store crawler.BlobStore, report crawler.CrawlReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	name := ReportName(report)
	uri, err := store.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return uri, nil
}
