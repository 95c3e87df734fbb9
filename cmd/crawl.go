package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/multisite-scraper/internal/app"
	"github.com/JakeFAU/multisite-scraper/internal/config"
	"github.com/JakeFAU/multisite-scraper/internal/crawler"
	"github.com/JakeFAU/multisite-scraper/internal/logging"
)

// crawlRunner is the part of app.App the crawl command uses.
type crawlRunner interface {
	Run(ctx context.Context) (app.Summary, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawlRunner, error) {
	return app.Build(ctx, cfg, logger, app.Overrides{})
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every enabled site and export the results",
		Long: `Loads the configuration, crawls all enabled sites concurrently,
exports the records in the configured formats and saves a crawl report.
Interrupting the crawl still produces and saves the report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), opts.configPath, cmd.OutOrStdout())
		},
	}
}

func runCrawl(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LoggingOptions())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	runner, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync() //nolint:errcheck // best effort before exit
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer runner.Close()

	summary, err := runner.Run(ctx)
	printSummary(out, summary)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, s app.Summary) {
	if s.RunID == "" {
		return
	}
	fmt.Fprintf(out, "Crawl %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Websites: %d  Items: %d\n", s.Report.TotalWebsites, s.Report.TotalItems)
	names := make([]string, 0, len(s.Report.Websites))
	for name := range s.Report.Websites {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		site := s.Report.Websites[name]
		line := fmt.Sprintf("  %-20s %-8s %d items", name, site.Status, site.ItemsScraped)
		if site.Status == crawler.StatusError && site.Error != "" {
			line += " (" + site.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
	for _, res := range s.Exports {
		if res.Err != nil {
			fmt.Fprintf(out, "Export %s failed: %v\n", res.Format, res.Err)
			continue
		}
		for _, loc := range res.Locations {
			fmt.Fprintf(out, "Export %s: %s\n", res.Format, loc)
		}
	}
	if s.ReportLocation != "" {
		fmt.Fprintf(out, "Report: %s\n", s.ReportLocation)
	}
}
