// Package cmd defines and implements the CLI commands for the multisite-scraper executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "multisite-scraper",
		Short: "Crawl configured websites and extract structured records.",
		Long: `multisite-scraper fetches pages from a set of configured websites,
extracts records through CSS field selectors and writes the results as
JSON, CSV, SQLite or Postgres rows together with a crawl report.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml",
		"config file (YAML, JSON or TOML); SCRAPER_* environment variables override it")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newInitCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
