package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/seed"
	"github.com/docpress/docpress/internal/store"
)

// newSeedCmd creates the 'seed' subcommand. It populates the frontier
// over plain HTTP and checkpoints it without opening a browser, so a
// later 'run' starts with a full work list.
func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [url...]",
		Short: "Populates the frontier from start URLs without exporting",
		Long: `Shallow-crawls the given start URLs (or seed.start_urls from the
configuration) over plain HTTP and records the discovered pages as
pending frontier entries. The frontier snapshot is saved through the
configured store so the next run picks it up.`,
		RunE: runSeedCommand,
	}
}

func runSeedCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
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

	startURLs := args
	if len(startURLs) == 0 {
		startURLs = a.Config.Seed.StartURLs
	}
	if len(startURLs) == 0 {
		return fmt.Errorf("no start URLs given and seed.start_urls is empty")
	}

	seeder := a.Seeder
	if seeder == nil {
		userAgent := a.Config.Seed.UserAgent
		if userAgent == "" {
			userAgent = a.Config.Driver.UserAgent
		}
		seeder = seed.New(seed.Config{
			UserAgent: userAgent,
			MaxDepth:  a.Config.Seed.MaxDepth,
			Blocklist: docpress.NewBlocklist(a.Config.Seed.BlockedDomains),
		}, a.Frontier, a.Logger.Named("seed"))
	}

	added, err := seeder.Seed(ctx, startURLs)
	if err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}
	a.Logger.Info("Frontier seeded", zap.Int("entries", added))

	if a.Repo != nil {
		snap := store.FromEntries(a.Frontier.Snapshot(), time.Now().UTC())
		if err := a.Repo.Save(ctx, snap); err != nil {
			return fmt.Errorf("save frontier snapshot: %w", err)
		}
		a.Logger.Info("Frontier snapshot saved", zap.Int("entries", len(snap.Entries)))
	}
	return nil
}
