package processor

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/hash/sha256"
	"github.com/docpress/docpress/internal/progress"
)

// ExportConfig tunes the PDF export processor.
type ExportConfig struct {
	// Prefix is the leading path segment for stored artifacts.
	Prefix string
	// Options controls page rendering.
	Options docpress.ExportOptions
	// RequireContent delays the export until the content finder has
	// isolated the main element. Pages whose finder was cancelled are
	// exported as-is.
	RequireContent bool
}

// DefaultExportConfig returns the standard export settings.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Prefix:  "exports",
		Options: docpress.DefaultExportOptions(),
	}
}

// PDFExporter renders the cleaned page to PDF and stores the artifact.
// It runs last in the standard set.
type PDFExporter struct {
	cfg      ExportConfig
	exporter docpress.Exporter
	blobs    docpress.BlobStore
	emitter  progress.Emitter
	clock    docpress.Clock
	logger   *zap.Logger
	done     bool
}

// NewPDFExporter builds the exporter. emitter and clock may be nil.
func NewPDFExporter(
	cfg ExportConfig,
	exporter docpress.Exporter,
	blobs docpress.BlobStore,
	emitter progress.Emitter,
	clock docpress.Clock,
	logger *zap.Logger,
) *PDFExporter {
	if cfg.Prefix == "" {
		cfg.Prefix = "exports"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExporter{
		cfg:      cfg,
		exporter: exporter,
		blobs:    blobs,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
	}
}

// Name implements docpress.Processor.
func (e *PDFExporter) Name() string { return "pdf_exporter" }

// Priority implements docpress.Processor.
func (e *PDFExporter) Priority() int { return PriorityPDFExporter }

// Detect waits for the load event and, when required, content
// isolation, then runs once.
func (e *PDFExporter) Detect(_ context.Context, pc *docpress.PageContext) (docpress.State, error) {
	if e.done {
		return docpress.StateCompleted, nil
	}
	if pc.PageState != docpress.PageComplete {
		return docpress.StateWaiting, nil
	}
	if e.cfg.RequireContent && !pc.ContentIsolated &&
		!pc.State("content_finder").Settled() {
		return docpress.StateWaiting, nil
	}
	return docpress.StateReady, nil
}

// Run renders the page, stores the artifact, and records its URI on the
// context.
func (e *PDFExporter) Run(ctx context.Context, pc *docpress.PageContext) error {
	e.done = true
	data, err := e.exporter.Render(ctx, pc.Page, e.cfg.Options)
	if err != nil {
		return err
	}
	uri, err := e.blobs.PutObject(ctx, artifactPath(e.cfg.Prefix, pc.Entry.URL), "application/pdf", data)
	if err != nil {
		return err
	}
	pc.ArtifactURI = uri
	digest := sha256.Sum(data)
	pc.Data["artifact_sha256"] = digest
	e.logger.Info("page exported",
		zap.String("entry_id", pc.Entry.ID),
		zap.String("uri", uri),
		zap.Int("bytes", len(data)),
		zap.String("sha256", digest))
	if e.emitter != nil {
		e.emitter.Emit(progress.Event{
			EntryID:   pc.Entry.ID,
			TS:        e.now(),
			Stage:     progress.StageExport,
			URL:       pc.Entry.URL,
			Slot:      pc.Slot,
			Processor: e.Name(),
			Bytes:     int64(len(data)),
			Note:      uri,
		})
	}
	return nil
}

// Finish implements docpress.Processor.
func (e *PDFExporter) Finish(context.Context, *docpress.PageContext) error { return nil }

func (e *PDFExporter) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now().UTC()
}

// artifactPath maps an entry URL to a stable storage path:
// <prefix>/<host>/<slugged path>.pdf.
func artifactPath(prefix, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Join(prefix, slugify(rawURL)+".pdf")
	}
	slug := slugify(strings.Trim(u.Path, "/"))
	if slug == "" {
		slug = "index"
	}
	return path.Join(prefix, strings.ToLower(u.Hostname()), slug+".pdf")
}

// slugify reduces a URL path to a filesystem and object friendly name.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
