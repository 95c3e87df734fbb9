package crawler

import "time"

// SiteReport summarizes one site in a CrawlReport.
type SiteReport struct {
	ItemsScraped int    `json:"items_scraped"`
	Status       Status `json:"status"`
	Error        string `json:"error,omitempty"`
}

// CrawlReport summarizes a crawl run. It is derived purely from the outcomes.
type CrawlReport struct {
	RunID         string                `json:"run_id,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
	TotalWebsites int                   `json:"total_websites"`
	TotalItems    int                   `json:"total_items"`
	Websites      map[string]SiteReport `json:"websites"`
}

// BuildReport summarizes results. at should be taken when the report is built.
func BuildReport(runID string, results Results, at time.Time) CrawlReport {
	report := CrawlReport{
		RunID:         runID,
		Timestamp:     at.UTC(),
		TotalWebsites: len(results),
		Websites:      make(map[string]SiteReport, len(results)),
	}
	for name, outcome := range results {
		entry := SiteReport{
			ItemsScraped: outcome.Count(),
			Status:       classify(outcome),
		}
		if entry.Status == StatusError && outcome.Err != nil {
			entry.Error = outcome.Err.Error()
		}
		report.Websites[name] = entry
		report.TotalItems += entry.ItemsScraped
	}
	return report
}

// Dataset returns the per-site record collections handed to exporters.
func Dataset(results Results) map[string][]Record {
	out := make(map[string][]Record, len(results))
	for name, outcome := range results {
		records := make([]Record, len(outcome.Records))
		copy(records, outcome.Records)
		out[name] = records
	}
	return out
}

// StatusCounts tallies sites per status.
func (r CrawlReport) StatusCounts() map[Status]int {
	counts := make(map[Status]int, 3)
	for _, site := range r.Websites {
		counts[site.Status]++
	}
	return counts
}

func classify(outcome SiteOutcome) Status {
	if outcome.Status == StatusError {
		return StatusError
	}
	if outcome.Count() > 0 {
		return StatusSuccess
	}
	return StatusNoData
}
