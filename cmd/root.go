// Package cmd defines and implements the CLI commands for the docpress
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docpress/docpress/internal/app"
	"github.com/docpress/docpress/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docpress",
		Short: "Exports documentation sites to PDF through headless Chrome.",
		Long: `docpress crawls a documentation site with a pool of headless browser
pages, cleans each page down to its main content, and stores one PDF
per page in the configured blob store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (defaults apply, overridable via DOCPRESS_* environment variables)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSeedCmd())

	return cmd
}

// buildApp loads configuration and assembles the application services.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize application services: %w", err)
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
