package chromedp

import (
	"context"
	"fmt"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/docpress/docpress/internal/docpress"
)

// Exporter renders pages to PDF through the browser's print pipeline.
type Exporter struct{}

// NewExporter builds the PDF exporter.
func NewExporter() *Exporter { return &Exporter{} }

// Render implements docpress.Exporter for chromedp page handles.
func (e *Exporter) Render(ctx context.Context, h docpress.PageHandle, opts docpress.ExportOptions) ([]byte, error) {
	p, ok := h.(*Page)
	if !ok {
		return nil, fmt.Errorf("render: handle is %T, not a chromedp page", h)
	}

	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()

	var pdf []byte
	action := chromedp.ActionFunc(func(c context.Context) error {
		params := cdppage.PrintToPDF().
			WithLandscape(opts.Landscape).
			WithPrintBackground(opts.PrintBackground)
		if opts.PaperWidth > 0 {
			params = params.WithPaperWidth(opts.PaperWidth)
		}
		if opts.PaperHeight > 0 {
			params = params.WithPaperHeight(opts.PaperHeight)
		}
		if opts.Margin > 0 {
			params = params.
				WithMarginTop(opts.Margin).
				WithMarginBottom(opts.Margin).
				WithMarginLeft(opts.Margin).
				WithMarginRight(opts.Margin)
		}
		if opts.Scale > 0 {
			params = params.WithScale(opts.Scale)
		}
		data, _, err := params.Do(c)
		if err != nil {
			return err
		}
		pdf = data
		return nil
	})
	if err := chromedp.Run(runCtx, action); err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	return pdf, nil
}
