package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, the main operating mode:
// it seeds the frontier when enabled, serves the inspection API, and
// drives the slot pool until the frontier drains or a signal arrives.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the configured site and exports every page to PDF",
		Long: `Binds frontier entries to browser pages and runs the processor
pipeline on each: load monitoring, link discovery, element cleanup,
content isolation, and PDF export. Progress is checkpointed so an
interrupted crawl resumes where it left off.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			a.Logger.Warn("Shutdown left resources behind", zap.Error(cerr))
		}
	}()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("Crawl finished")
	return nil
}
