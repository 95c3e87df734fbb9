// Package export writes crawl datasets and reports to their configured destinations.
package export

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// TimestampLayout stamps artifact names, e.g. scraped_data_20250101_120000.json.
const TimestampLayout = "20060102_150405"

// ListSeparator joins multi-valued fields in tabular outputs.
const ListSeparator = ", "

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Run is the input handed to every exporter.
type Run struct {
	ID        string
	StartedAt time.Time
	Dataset   map[string][]crawler.Record
}

// Stamp returns the artifact timestamp for the run.
func (r Run) Stamp() string {
	return r.StartedAt.UTC().Format(TimestampLayout)
}

// Exporter writes a run to one output format and returns artifact locations.
type Exporter interface {
	Format() string
	Export(ctx context.Context, run Run) ([]string, error)
}

// Result reports the outcome of one exporter.
type Result struct {
	Format    string
	Locations []string
	Err       error
}

// Pipeline runs exporters in order. A failing exporter never stops the others.
type Pipeline struct {
	exporters []Exporter
	logger    *zap.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(logger *zap.Logger, exporters ...Exporter) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{exporters: exporters, logger: logger}
}

// Run executes every exporter and returns one Result per exporter.
func (p *Pipeline) Run(ctx context.Context, run Run) []Result {
	results := make([]Result, 0, len(p.exporters))
	for _, exp := range p.exporters {
		logger := p.logger.With(zap.String("format", exp.Format()))
		locations, err := safeExport(ctx, exp, run)
		if err != nil {
			logger.Error("export failed", zap.Error(err))
		} else {
			logger.Info("export written", zap.Strings("locations", locations))
		}
		results = append(results, Result{Format: exp.Format(), Locations: locations, Err: err})
	}
	return results
}

func safeExport(ctx context.Context, exp Exporter, run Run) (locations []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s exporter panicked: %v", exp.Format(), r)
		}
	}()
	return exp.Export(ctx, run)
}

// SafeName reduces a site name to characters valid in file and table names.
func SafeName(site string) string {
	name := unsafeName.ReplaceAllString(site, "_")
	if name == "" {
		return "site"
	}
	return name
}

// nonEmptySites returns sites with at least one record, sorted by name.
func nonEmptySites(dataset map[string][]crawler.Record) []string {
	results := make(crawler.Results, len(dataset))
	for site, records := range dataset {
		if len(records) > 0 {
			results[site] = crawler.SiteOutcome{Site: site}
		}
	}
	return results.Names()
}

// fieldColumns returns field names in first-seen order across records.
func fieldColumns(records []crawler.Record) []string {
	seen := make(map[string]struct{})
	var columns []string
	for _, rec := range records {
		for _, f := range rec.Fields() {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			columns = append(columns, f.Name)
		}
	}
	return columns
}
