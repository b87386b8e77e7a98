package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
)

// ContentFinder isolates the main content element of a documentation
// page. It walks from the matched element up to the body, removing all
// siblings at each level, then injects a small print stylesheet so the
// remaining content flows across the full page width. When the selector
// does not match, the finder errors and the assignment proceeds without
// isolation.
type ContentFinder struct {
	selector string
	logger   *zap.Logger
	done     bool
}

// NewContentFinder builds a finder for the content selector. An empty
// selector disables isolation.
func NewContentFinder(selector string, logger *zap.Logger) *ContentFinder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentFinder{selector: strings.TrimSpace(selector), logger: logger}
}

// Name implements docpress.Processor.
func (f *ContentFinder) Name() string { return "content_finder" }

// Priority implements docpress.Processor.
func (f *ContentFinder) Priority() int { return PriorityContentFinder }

// Detect waits for the load event, then runs once.
func (f *ContentFinder) Detect(_ context.Context, pc *docpress.PageContext) (docpress.State, error) {
	if f.done {
		return docpress.StateCompleted, nil
	}
	if pc.PageState != docpress.PageComplete {
		return docpress.StateWaiting, nil
	}
	return docpress.StateReady, nil
}

// Run isolates the content element and flags the context.
func (f *ContentFinder) Run(ctx context.Context, pc *docpress.PageContext) error {
	f.done = true
	if f.selector == "" {
		return nil
	}
	var found bool
	if err := pc.Page.Evaluate(ctx, isolationScript(f.selector), &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("content selector %q matched nothing", f.selector)
	}
	pc.ContentIsolated = true
	f.logger.Debug("content isolated",
		zap.String("entry_id", pc.Entry.ID),
		zap.String("selector", f.selector))
	return nil
}

// Finish implements docpress.Processor.
func (f *ContentFinder) Finish(context.Context, *docpress.PageContext) error { return nil }

// isolationScript removes everything outside the matched element and
// injects print-friendly layout rules. Returns whether the selector
// matched.
func isolationScript(selector string) string {
	var b strings.Builder
	b.WriteString("(() => {\n")
	b.WriteString("  const target = document.querySelector(" + strconv.Quote(selector) + ");\n")
	b.WriteString("  if (!target) { return false; }\n")
	b.WriteString("  let node = target;\n")
	b.WriteString("  while (node && node !== document.body) {\n")
	b.WriteString("    const parent = node.parentElement;\n")
	b.WriteString("    if (!parent) { break; }\n")
	b.WriteString("    for (const sibling of Array.from(parent.children)) {\n")
	b.WriteString("      if (sibling !== node) { sibling.remove(); }\n")
	b.WriteString("    }\n")
	b.WriteString("    node = parent;\n")
	b.WriteString("  }\n")
	b.WriteString("  const style = document.createElement('style');\n")
	b.WriteString("  style.textContent = 'body { margin: 0; } " +
		"* { max-width: 100% !important; } " +
		"html, body { overflow: visible !important; }';\n")
	b.WriteString("  document.head.appendChild(style);\n")
	b.WriteString("  return true;\n")
	b.WriteString("})()")
	return b.String()
}
