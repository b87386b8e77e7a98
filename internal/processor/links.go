package processor

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
)

// LinksConfig tunes the link discovery processor.
type LinksConfig struct {
	// Selector matches anchor elements; defaults to "a[href]".
	Selector string
	// Category tags discovered entries in the frontier.
	Category string
	// SameHostOnly drops links whose host differs from the entry URL.
	SameHostOnly bool
	// Blocklist suppresses links matching blocked patterns.
	Blocklist *docpress.Blocklist
}

// DefaultLinksConfig returns the standard same-host link discovery
// configuration.
func DefaultLinksConfig() LinksConfig {
	return LinksConfig{
		Selector:     "a[href]",
		Category:     "discovered",
		SameHostOnly: true,
	}
}

// LinksFinder harvests anchors from the page and bulk-adds them to the
// frontier. It harvests twice: once as soon as the DOM is ready, and
// again after the full load, so late-rendered navigation is picked up
// without waiting for slow subresources.
type LinksFinder struct {
	cfg       LinksConfig
	frontier  docpress.Frontier
	logger    *zap.Logger
	earlyDone bool
	lateDone  bool
}

// NewLinksFinder builds a finder for one assignment.
func NewLinksFinder(cfg LinksConfig, frontier docpress.Frontier, logger *zap.Logger) *LinksFinder {
	if cfg.Selector == "" {
		cfg.Selector = "a[href]"
	}
	if cfg.Category == "" {
		cfg.Category = "discovered"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinksFinder{cfg: cfg, frontier: frontier, logger: logger}
}

// Name implements docpress.Processor.
func (f *LinksFinder) Name() string { return "links_finder" }

// Priority implements docpress.Processor.
func (f *LinksFinder) Priority() int { return PriorityLinksFinder }

// Detect waits for the DOM, harvests on readiness and again on load,
// then completes.
func (f *LinksFinder) Detect(_ context.Context, pc *docpress.PageContext) (docpress.State, error) {
	switch pc.PageState {
	case docpress.PageLoading:
		return docpress.StateWaiting, nil
	case docpress.PageReady:
		if f.earlyDone {
			return docpress.StateRunning, nil
		}
		return docpress.StateReady, nil
	default:
		if f.lateDone {
			return docpress.StateCompleted, nil
		}
		return docpress.StateReady, nil
	}
}

// Run queries the page for anchors and feeds the accepted ones into the
// frontier.
func (f *LinksFinder) Run(ctx context.Context, pc *docpress.PageContext) error {
	refs, err := pc.Page.QueryAll(ctx, f.cfg.Selector)
	if err != nil {
		return err
	}
	urls := f.accept(pc.Entry.URL, refs)
	added := f.frontier.BulkAdd(urls, f.cfg.Category)
	f.logger.Debug("links harvested",
		zap.String("entry_id", pc.Entry.ID),
		zap.String("phase", f.phase(pc)),
		zap.Int("candidates", len(refs)),
		zap.Int("accepted", len(urls)),
		zap.Int("present", len(added)))
	if pc.PageState == docpress.PageComplete {
		f.lateDone = true
	} else {
		f.earlyDone = true
	}
	return nil
}

// Finish implements docpress.Processor.
func (f *LinksFinder) Finish(context.Context, *docpress.PageContext) error { return nil }

func (f *LinksFinder) phase(pc *docpress.PageContext) string {
	if pc.PageState == docpress.PageComplete {
		return "load"
	}
	return "dom_ready"
}

// accept resolves hrefs against the page URL and filters them down to
// navigable page links.
func (f *LinksFinder) accept(entryURL string, refs []docpress.ElementRef) []string {
	base, err := url.Parse(entryURL)
	if err != nil {
		base = nil
	}
	host := docpress.Host(entryURL)
	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		href := strings.TrimSpace(ref.Attrs["href"])
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
			continue
		}
		resolved := resolveHref(base, href)
		if resolved == "" {
			continue
		}
		if f.cfg.SameHostOnly && host != "" && docpress.Host(resolved) != host {
			continue
		}
		if f.cfg.Blocklist.MatchesURL(resolved) {
			continue
		}
		urls = append(urls, resolved)
	}
	return urls
}

// resolveHref makes an anchor href absolute against the page URL, the
// way the browser would when following it.
func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return href
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
