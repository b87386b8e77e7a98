// Package app assembles the long-lived services from configuration,
// acting as the dependency injection container for the exporter.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docpress/docpress/internal/api"
	"github.com/docpress/docpress/internal/clock/system"
	"github.com/docpress/docpress/internal/config"
	"github.com/docpress/docpress/internal/docpress"
	chromedpdriver "github.com/docpress/docpress/internal/driver/chromedp"
	memorydriver "github.com/docpress/docpress/internal/driver/memory"
	"github.com/docpress/docpress/internal/frontier"
	"github.com/docpress/docpress/internal/id/uuid"
	"github.com/docpress/docpress/internal/logging"
	"github.com/docpress/docpress/internal/metrics"
	"github.com/docpress/docpress/internal/processor"
	"github.com/docpress/docpress/internal/progress"
	"github.com/docpress/docpress/internal/progress/sinks"
	memorypub "github.com/docpress/docpress/internal/publisher/memory"
	nooppub "github.com/docpress/docpress/internal/publisher/noop"
	pubsubpub "github.com/docpress/docpress/internal/publisher/pubsub"
	"github.com/docpress/docpress/internal/scheduler"
	"github.com/docpress/docpress/internal/seed"
	"github.com/docpress/docpress/internal/storage/gcs"
	"github.com/docpress/docpress/internal/storage/local"
	memoryblob "github.com/docpress/docpress/internal/storage/memory"
	"github.com/docpress/docpress/internal/store"
	filestore "github.com/docpress/docpress/internal/store/file"
	pgstore "github.com/docpress/docpress/internal/store/postgres"
)

// App holds the assembled services. Build one with New or through a
// Builder, run it with Run, and release resources with Close.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Registry  *prometheus.Registry
	Frontier  *frontier.Frontier
	Repo      store.Repository
	Blobs     docpress.BlobStore
	Publisher docpress.Publisher
	Driver    docpress.PageDriver
	Exporter  docpress.Exporter
	Hub       *progress.Hub
	Scheduler *scheduler.Scheduler
	Seeder    *seed.Seeder
	API       *api.Server

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Builder constructs an App from configuration, with optional overrides
// for individual components. Overrides are mostly useful in tests and
// embedded setups; production wiring follows the config kinds.
type Builder struct {
	cfg config.Config

	logger    *zap.Logger
	clock     docpress.Clock
	driver    docpress.PageDriver
	exporter  docpress.Exporter
	blobs     docpress.BlobStore
	publisher docpress.Publisher
	repo      store.Repository
}

// NewBuilder starts a Builder for the configuration.
func NewBuilder(cfg config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// WithLogger overrides the configured logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the system clock.
func (b *Builder) WithClock(clock docpress.Clock) *Builder {
	b.clock = clock
	return b
}

// WithDriver overrides the page driver and its matching exporter.
func (b *Builder) WithDriver(driver docpress.PageDriver, exporter docpress.Exporter) *Builder {
	b.driver = driver
	b.exporter = exporter
	return b
}

// WithBlobStore overrides the artifact store.
func (b *Builder) WithBlobStore(blobs docpress.BlobStore) *Builder {
	b.blobs = blobs
	return b
}

// WithPublisher overrides the notification publisher.
func (b *Builder) WithPublisher(publisher docpress.Publisher) *Builder {
	b.publisher = publisher
	return b
}

// WithRepository overrides the frontier snapshot repository.
func (b *Builder) WithRepository(repo store.Repository) *Builder {
	b.repo = repo
	return b
}

// WithStartURLs enables seeding from the given URLs.
func (b *Builder) WithStartURLs(urls ...string) *Builder {
	b.cfg.Seed.Enabled = true
	b.cfg.Seed.StartURLs = urls
	return b
}

// WithSlots sets the number of concurrently bound pages.
func (b *Builder) WithSlots(n int) *Builder {
	b.cfg.Scheduler.Slots = n
	return b
}

// WithBlockedDomains sets the domain patterns the seeder and link
// discovery must never follow.
func (b *Builder) WithBlockedDomains(patterns ...string) *Builder {
	b.cfg.Seed.BlockedDomains = patterns
	return b
}

// WithLinkSelector sets the anchor selector for link discovery.
func (b *Builder) WithLinkSelector(selector string) *Builder {
	b.cfg.Processors.LinkSelector = selector
	return b
}

// WithRemoveSelectors sets the elements stripped before export.
func (b *Builder) WithRemoveSelectors(selectors ...string) *Builder {
	b.cfg.Processors.RemoveSelectors = selectors
	return b
}

// WithContentSelector sets the element isolated as the page's main
// content before export.
func (b *Builder) WithContentSelector(selector string) *Builder {
	b.cfg.Processors.ContentSelector = selector
	return b
}

// WithExportPrefix sets the leading path segment for stored artifacts.
func (b *Builder) WithExportPrefix(prefix string) *Builder {
	b.cfg.Export.Prefix = prefix
	return b
}

// New builds an App with the default wiring for the configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	return NewBuilder(cfg).Build(ctx)
}

// Build assembles the App. On error every component constructed so far
// is torn down again.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	a := &App{Config: b.cfg}
	if err := b.assemble(ctx, a); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (b *Builder) assemble(ctx context.Context, a *App) error {
	cfg := b.cfg

	logger := b.logger
	if logger == nil {
		built, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = built
		a.closers = append(a.closers, closer{"logger", func(context.Context) error {
			// Sync on stderr commonly reports EINVAL; not actionable.
			_ = built.Sync()
			return nil
		}})
	}
	a.Logger = logger

	clk := b.clock
	if clk == nil {
		clk = system.New()
	}

	a.Frontier = frontier.New(uuid.New(), clk, logger.Named("frontier"))

	if err := b.buildRepo(ctx, a); err != nil {
		return err
	}
	if err := b.restoreFrontier(ctx, a); err != nil {
		return err
	}
	if err := b.buildBlobs(ctx, a); err != nil {
		return err
	}
	if err := b.buildPublisher(ctx, a); err != nil {
		return err
	}
	if err := b.buildDriver(a); err != nil {
		return err
	}

	a.Registry = prometheus.NewRegistry()
	if err := b.buildHub(a, clk); err != nil {
		return err
	}

	factories, err := b.buildFactories(a, clk)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		Slots:         cfg.Scheduler.Slots,
		PollInterval:  cfg.PollInterval(),
		PageTimeout:   cfg.PageTimeout(),
		DetectTimeout: cfg.DetectTimeout(),
		EventBuffer:   cfg.Scheduler.EventBuffer,
		ExitWhenIdle:  cfg.Scheduler.ExitWhenIdle,
	}, scheduler.Options{
		Frontier:  a.Frontier,
		Driver:    a.Driver,
		Factories: factories,
		Retry:     docpress.MaxAttempts(cfg.Scheduler.MaxRetries),
		Emitter:   a.Hub,
		Clock:     clk,
		Logger:    logger.Named("scheduler"),
	})
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	a.Scheduler = sched

	if cfg.Seed.Enabled {
		a.Seeder = seed.New(seed.Config{
			UserAgent: seedUserAgent(cfg),
			MaxDepth:  cfg.Seed.MaxDepth,
			Blocklist: docpress.NewBlocklist(cfg.Seed.BlockedDomains),
		}, a.Frontier, logger.Named("seed"))
	}

	if cfg.Server.Enabled {
		httpMetrics, err := metrics.NewHTTP(a.Registry)
		if err != nil {
			return fmt.Errorf("build http metrics: %w", err)
		}
		a.API = api.NewServer(api.Config{
			Timeout: cfg.ServerTimeout(),
			APIKey:  cfg.Server.APIKey,
		}, sched, a.Frontier, a.Registry, httpMetrics, logger.Named("api"))
	}

	return nil
}

func (b *Builder) buildRepo(ctx context.Context, a *App) error {
	if b.repo != nil {
		a.Repo = b.repo
		return nil
	}
	switch b.cfg.Store.Kind {
	case "file":
		repo, err := filestore.New(b.cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("build file store: %w", err)
		}
		a.Repo = repo
	case "postgres":
		repo, err := pgstore.New(ctx, b.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("build postgres store: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return err
		}
		a.Repo = repo
		a.closers = append(a.closers, closer{"postgres store", func(context.Context) error {
			repo.Close()
			return nil
		}})
	case "none":
	default:
		return fmt.Errorf("unknown store kind %q", b.cfg.Store.Kind)
	}
	return nil
}

func (b *Builder) restoreFrontier(ctx context.Context, a *App) error {
	if a.Repo == nil {
		return nil
	}
	snap, err := a.Repo.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore frontier: %w", err)
	}
	a.Frontier.Restore(snap.ToEntries())
	a.Logger.Info("frontier restored from snapshot",
		zap.Int("entries", len(snap.Entries)),
		zap.Time("taken_at", snap.TakenAt))
	return nil
}

func (b *Builder) buildBlobs(ctx context.Context, a *App) error {
	if b.blobs != nil {
		a.Blobs = b.blobs
		return nil
	}
	switch b.cfg.Storage.Kind {
	case "local":
		blobs, err := local.New(local.Config{BaseDir: b.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("build local blob store: %w", err)
		}
		a.Blobs = blobs
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("build gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: b.cfg.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("build gcs blob store: %w", err)
		}
		a.Blobs = blobs
		a.closers = append(a.closers, closer{"gcs client", func(context.Context) error {
			return client.Close()
		}})
	case "memory":
		a.Blobs = memoryblob.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage kind %q", b.cfg.Storage.Kind)
	}
	return nil
}

func (b *Builder) buildPublisher(ctx context.Context, a *App) error {
	if b.publisher != nil {
		a.Publisher = b.publisher
		return nil
	}
	switch b.cfg.Publish.Kind {
	case "noop":
		a.Publisher = nooppub.New()
	case "memory":
		a.Publisher = memorypub.New()
	case "pubsub":
		client, err := pubsub.NewClient(ctx, b.cfg.Publish.ProjectID)
		if err != nil {
			return fmt.Errorf("build pubsub client: %w", err)
		}
		pub, err := pubsubpub.New(client)
		if err != nil {
			_ = client.Close()
			return err
		}
		a.Publisher = pub
		a.closers = append(a.closers, closer{"pubsub publisher", func(context.Context) error {
			pub.Close()
			return client.Close()
		}})
	default:
		return fmt.Errorf("unknown publish kind %q", b.cfg.Publish.Kind)
	}
	return nil
}

func (b *Builder) buildDriver(a *App) error {
	if b.driver != nil {
		a.Driver = b.driver
		a.Exporter = b.exporter
		if a.Exporter == nil {
			return fmt.Errorf("driver override requires an exporter")
		}
		return nil
	}
	switch b.cfg.Driver.Kind {
	case "chromedp":
		driver, err := chromedpdriver.New(chromedpdriver.Config{
			UserAgent:     b.cfg.Driver.UserAgent,
			EventBuffer:   b.cfg.Scheduler.EventBuffer,
			RatePerDomain: b.cfg.Driver.RatePerDomain,
			RateBurst:     b.cfg.Driver.RateBurst,
		})
		if err != nil {
			return fmt.Errorf("build chromedp driver: %w", err)
		}
		a.Driver = driver
		a.Exporter = chromedpdriver.NewExporter()
	case "memory":
		a.Driver = memorydriver.New(nil)
		a.Exporter = memorydriver.Exporter{}
	default:
		return fmt.Errorf("unknown driver kind %q", b.cfg.Driver.Kind)
	}
	a.closers = append(a.closers, closer{"page driver", a.Driver.Close})
	return nil
}

func (b *Builder) buildHub(a *App, clk docpress.Clock) error {
	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return fmt.Errorf("build prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{
		sinks.NewLogSink(a.Logger.Named("progress")),
		promSink,
		sinks.NewPublishSink(a.Publisher, b.cfg.Publish.Topic, a.Logger.Named("publish")),
	}
	if a.Repo != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(a.Repo, a.Frontier.Snapshot, clk, a.Logger.Named("checkpoint")))
	}
	a.Hub = progress.NewHub(progress.Config{
		BufferSize: b.cfg.Scheduler.EventBuffer * b.cfg.Scheduler.Slots,
		Logger:     a.Logger.Named("progress"),
	}, sinkList...)
	a.closers = append(a.closers, closer{"progress hub", a.Hub.Close})
	return nil
}

// buildFactories registers the standard processor set and selects the
// configured subset.
func (b *Builder) buildFactories(a *App, clk docpress.Clock) ([]docpress.ProcessorFactory, error) {
	cfg := b.cfg
	quality := processor.DefaultQualityConfig(cfg.PageTimeout())
	if cfg.Quality.SlowThreshold != 0 {
		quality.SlowThreshold = cfg.Quality.SlowThreshold
	}
	if cfg.Quality.FailedThreshold != 0 {
		quality.FailedThreshold = cfg.Quality.FailedThreshold
	}
	linksCfg := processor.DefaultLinksConfig()
	if cfg.Processors.LinkSelector != "" {
		linksCfg.Selector = cfg.Processors.LinkSelector
	}
	linksCfg.SameHostOnly = cfg.Processors.SameHostOnly
	linksCfg.Blocklist = docpress.NewBlocklist(cfg.Seed.BlockedDomains)
	exportCfg := processor.ExportConfig{
		Prefix: cfg.Export.Prefix,
		Options: docpress.ExportOptions{
			Landscape:       cfg.Export.Landscape,
			PaperWidth:      cfg.Export.PaperWidth,
			PaperHeight:     cfg.Export.PaperHeight,
			Margin:          cfg.Export.Margin,
			PrintBackground: cfg.Export.PrintBackground,
			Scale:           cfg.Export.Scale,
		},
		RequireContent: cfg.Processors.RequireContent,
	}

	logger := a.Logger.Named("processor")
	registry := processor.NewRegistry()
	register := func(name string, ctor func() docpress.Processor) error {
		if err := registry.Register(name, ctor); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		return nil
	}
	if err := register("page_monitor", func() docpress.Processor {
		return processor.NewPageMonitor(quality.SlowCutoff, logger)
	}); err != nil {
		return nil, err
	}
	if err := register("request_quality", func() docpress.Processor {
		return processor.NewRequestQualityMonitor(quality, a.Frontier, a.Hub, logger)
	}); err != nil {
		return nil, err
	}
	if err := register("links_finder", func() docpress.Processor {
		return processor.NewLinksFinder(linksCfg, a.Frontier, logger)
	}); err != nil {
		return nil, err
	}
	if err := register("element_cleaner", func() docpress.Processor {
		return processor.NewElementCleaner(cfg.Processors.RemoveSelectors, logger)
	}); err != nil {
		return nil, err
	}
	if err := register("content_finder", func() docpress.Processor {
		return processor.NewContentFinder(cfg.Processors.ContentSelector, logger)
	}); err != nil {
		return nil, err
	}
	if err := register("pdf_exporter", func() docpress.Processor {
		return processor.NewPDFExporter(exportCfg, a.Exporter, a.Blobs, a.Hub, clk, logger)
	}); err != nil {
		return nil, err
	}

	factories, err := registry.Factories(cfg.Processors.Enabled...)
	if err != nil {
		return nil, fmt.Errorf("select processors: %w", err)
	}
	return factories, nil
}

func seedUserAgent(cfg config.Config) string {
	if cfg.Seed.UserAgent != "" {
		return cfg.Seed.UserAgent
	}
	return cfg.Driver.UserAgent
}

// Run seeds the frontier when enabled, serves the inspection API, and
// drives the scheduler until ctx is cancelled or the frontier drains.
func (a *App) Run(ctx context.Context) error {
	if a.Seeder != nil {
		added, err := a.Seeder.Seed(ctx, a.Config.Seed.StartURLs)
		if err != nil {
			return fmt.Errorf("seed frontier: %w", err)
		}
		a.Logger.Info("frontier seeded", zap.Int("entries", added))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	var httpServer *http.Server
	if a.API != nil {
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
			Handler:           a.API.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.Logger.Info("inspection server listening", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("inspection server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := a.Scheduler.Run(gctx)
		// The scheduler finishing, for any reason, ends the run.
		cancel()
		if httpServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			// Idle exit, not an external cancellation.
			return nil
		}
		return err
	})
	return g.Wait()
}

// Close releases resources in reverse construction order. It is safe to
// call after a failed build.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", c.name, err)
		}
	}
	a.closers = nil
	return firstErr
}
