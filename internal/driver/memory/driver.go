// Package memory provides an in-process page driver for tests and dry
// runs. Pages load instantly and serve scripted links.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/docpress/docpress/internal/docpress"
)

// Site scripts the fake web the driver serves: each URL maps to the
// hrefs its page links to.
type Site map[string][]string

// Driver implements docpress.PageDriver without a browser.
type Driver struct {
	site   Site
	closed atomic.Bool
}

// New builds a driver for the scripted site. A nil site serves empty
// pages.
func New(site Site) *Driver {
	return &Driver{site: site}
}

// Acquire implements docpress.PageDriver.
func (d *Driver) Acquire(context.Context) (docpress.PageHandle, error) {
	if d.closed.Load() {
		return nil, docpress.ErrDriverClosed
	}
	return &Page{driver: d, events: make(chan docpress.PageEvent, 64)}, nil
}

// Close implements docpress.PageDriver.
func (d *Driver) Close(context.Context) error {
	d.closed.Store(true)
	return nil
}

// Page is a scripted page. Navigation immediately emits the DOM-ready
// and load events.
type Page struct {
	driver *Driver
	events chan docpress.PageEvent

	mu  sync.Mutex
	url string
}

// Navigate records the URL and emits the load lifecycle events.
func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.push(docpress.PageEvent{Kind: docpress.EventDOMReady})
	p.push(docpress.PageEvent{Kind: docpress.EventLoad})
	return nil
}

// Evaluate reports success for any script: removals remove zero
// elements and content lookups succeed.
func (p *Page) Evaluate(_ context.Context, _ string, out any) error {
	switch v := out.(type) {
	case *bool:
		*v = true
	case *int:
		*v = 0
	}
	return nil
}

// QueryAll serves the scripted links of the current URL as anchors.
func (p *Page) QueryAll(_ context.Context, selector string) ([]docpress.ElementRef, error) {
	p.mu.Lock()
	url := p.url
	p.mu.Unlock()
	links := p.driver.site[url]
	refs := make([]docpress.ElementRef, 0, len(links))
	for i, href := range links {
		refs = append(refs, docpress.ElementRef{
			Selector: selector,
			Index:    i,
			Attrs:    map[string]string{"href": href},
		})
	}
	return refs, nil
}

// Screenshot returns a placeholder image.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []byte("screenshot:" + p.url), nil
}

// Events implements docpress.PageHandle.
func (p *Page) Events() <-chan docpress.PageEvent { return p.events }

// Close implements docpress.PageHandle.
func (p *Page) Close(context.Context) error { return nil }

func (p *Page) push(evt docpress.PageEvent) {
	select {
	case p.events <- evt:
	default:
	}
}

// Exporter renders scripted pages as a trivial document, so dry runs
// exercise the export path end to end.
type Exporter struct{}

// Render implements docpress.Exporter.
func (Exporter) Render(_ context.Context, h docpress.PageHandle, _ docpress.ExportOptions) ([]byte, error) {
	p, ok := h.(*Page)
	if !ok {
		return nil, fmt.Errorf("render: handle is %T, not a memory page", h)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return []byte("pdf:" + p.url), nil
}
