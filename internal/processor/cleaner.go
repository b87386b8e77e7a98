package processor

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
)

// ElementCleaner removes navigation chrome, banners and other elements
// matching the configured selectors once the page has fully loaded, so
// the export contains only document content.
type ElementCleaner struct {
	selectors []string
	logger    *zap.Logger
	done      bool
}

// NewElementCleaner builds a cleaner. Empty selectors make the cleaner
// a no-op that still participates in the priority chain.
func NewElementCleaner(selectors []string, logger *zap.Logger) *ElementCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if s := strings.TrimSpace(sel); s != "" {
			kept = append(kept, s)
		}
	}
	return &ElementCleaner{selectors: kept, logger: logger}
}

// Name implements docpress.Processor.
func (c *ElementCleaner) Name() string { return "element_cleaner" }

// Priority implements docpress.Processor.
func (c *ElementCleaner) Priority() int { return PriorityElementCleaner }

// Detect waits for the load event, then runs once.
func (c *ElementCleaner) Detect(_ context.Context, pc *docpress.PageContext) (docpress.State, error) {
	if c.done {
		return docpress.StateCompleted, nil
	}
	if pc.PageState != docpress.PageComplete {
		return docpress.StateWaiting, nil
	}
	return docpress.StateReady, nil
}

// Run evaluates a removal script for the configured selectors and
// records how many elements were removed.
func (c *ElementCleaner) Run(ctx context.Context, pc *docpress.PageContext) error {
	c.done = true
	if len(c.selectors) == 0 {
		return nil
	}
	var removed int
	if err := pc.Page.Evaluate(ctx, removalScript(c.selectors), &removed); err != nil {
		return err
	}
	pc.Data["elements_removed"] = removed
	c.logger.Debug("elements removed",
		zap.String("entry_id", pc.Entry.ID),
		zap.Int("removed", removed))
	return nil
}

// Finish implements docpress.Processor.
func (c *ElementCleaner) Finish(context.Context, *docpress.PageContext) error { return nil }

// removalScript builds a script that removes every element matching the
// selectors and returns the removal count.
func removalScript(selectors []string) string {
	quoted := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		quoted = append(quoted, strconv.Quote(sel))
	}
	var b strings.Builder
	b.WriteString("(() => {\n")
	b.WriteString("  const selectors = [" + strings.Join(quoted, ", ") + "];\n")
	b.WriteString("  let removed = 0;\n")
	b.WriteString("  for (const sel of selectors) {\n")
	b.WriteString("    for (const el of document.querySelectorAll(sel)) {\n")
	b.WriteString("      el.remove();\n")
	b.WriteString("      removed++;\n")
	b.WriteString("    }\n")
	b.WriteString("  }\n")
	b.WriteString("  return removed;\n")
	b.WriteString("})()")
	return b.String()
}
