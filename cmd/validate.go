package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/multisite-scraper/internal/config"
)

// newValidateCmd creates the 'validate' subcommand.
func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and list the configured sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			sites, err := cfg.SiteSpecs()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			enabled := 0
			for _, site := range sites {
				if site.Enabled() {
					enabled++
				}
			}
			fmt.Fprintf(out, "Configuration OK: %d sites (%d enabled)\n", len(sites), enabled)
			for _, site := range sites {
				state := "enabled"
				if !site.Enabled() {
					state = "disabled"
				}
				fmt.Fprintf(out, "  - %s [%s] %s pages=%d\n", site.Name(), state, site.BaseURL(), len(site.Pages()))
			}
			fmt.Fprintf(out, "Formats: %s\n", strings.Join(cfg.Storage.Formats, ", "))
			return nil
		},
	}
}
