package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/multisite-scraper/internal/config"
)

// newInitCmd creates the 'init' subcommand.
func newInitCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the output and log directories and a sample config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initProject(cmd, dir, force)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.yaml")
	return cmd
}

func initProject(cmd *cobra.Command, dir string, force bool) error {
	out := cmd.OutOrStdout()
	for _, sub := range []string{"scraped_data", "logs"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		fmt.Fprintf(out, "Created %s\n", path)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err := os.Stat(cfgPath)
	switch {
	case err == nil && !force:
		fmt.Fprintf(out, "Kept existing %s (use --force to overwrite)\n", cfgPath)
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat %s: %w", cfgPath, err)
	}
	if err := os.WriteFile(cfgPath, []byte(config.SampleYAML), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}
	fmt.Fprintf(out, "Wrote sample config to %s\n", cfgPath)
	fmt.Fprintf(out, "Next: edit the sites list, then run `multisite-scraper validate --config %s`\n", cfgPath)
	return nil
}
