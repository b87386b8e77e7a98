// Package chromedp drives real browser pages through headless Chrome.
package chromedp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/docpress/docpress/internal/docpress"
)

// Config controls the browser allocator and per-page behavior.
type Config struct {
	UserAgent string
	// EventBuffer bounds each page's notification channel (default 256).
	EventBuffer int
	// RatePerDomain limits navigations per second per domain; zero
	// disables rate limiting.
	RatePerDomain float64
	// RateBurst is the limiter burst size (default 1).
	RateBurst int
}

// Driver owns one Chrome process and hands out tabs as page handles.
type Driver struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	limiters    sync.Map
	closed      atomic.Bool
}

// New launches the browser allocator.
func New(cfg Config) (*Driver, error) {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Driver{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Acquire opens a fresh tab and wires its network events into the
// handle's buffer.
func (d *Driver) Acquire(_ context.Context) (docpress.PageHandle, error) {
	if d.closed.Load() {
		return nil, docpress.ErrDriverClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(d.allocator)
	p := &Page{
		driver:   d,
		ctx:      tabCtx,
		cancel:   tabCancel,
		events:   make(chan docpress.PageEvent, d.cfg.EventBuffer),
		requests: make(map[network.RequestID]*requestInfo),
	}
	chromedp.ListenTarget(tabCtx, p.captureEvent)
	return p, nil
}

// Close tears down the browser. Outstanding handles become unusable.
func (d *Driver) Close(context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}
	d.allocCancel()
	return nil
}

func (d *Driver) limiter(host string) *rate.Limiter {
	if d.cfg.RatePerDomain <= 0 || host == "" {
		return nil
	}
	if l, ok := d.limiters.Load(host); ok {
		return l.(*rate.Limiter)
	}
	l, _ := d.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(d.cfg.RatePerDomain), d.cfg.RateBurst))
	return l.(*rate.Limiter)
}

// Page is one Chrome tab.
type Page struct {
	driver *Driver
	ctx    context.Context
	cancel context.CancelFunc
	events chan docpress.PageEvent

	mu       sync.Mutex
	requests map[network.RequestID]*requestInfo
	dropped  atomic.Int64
}

type requestInfo struct {
	url    string
	start  time.Time
	status int
}

// Navigate honors the per-domain rate limit, then loads the URL.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if limiter := p.driver.limiter(docpress.Host(url)); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()

	actions := []chromedp.Action{
		p.setupAction(),
		chromedp.Navigate(url),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *Page) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := p.driver.cfg.UserAgent; ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Evaluate runs a script in the page, unmarshalling into out when
// non-nil.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()

	if out == nil {
		var discard any
		out = &discard
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// elementQueryScript returns matched elements with their text and
// attributes.
func elementQueryScript(selector string) string {
	return `(() => {
  const out = [];
  const sel = ` + strconv.Quote(selector) + `;
  document.querySelectorAll(sel).forEach((el, i) => {
    const attrs = {};
    for (const a of el.attributes) { attrs[a.name] = a.value; }
    out.push({selector: sel, index: i, text: (el.textContent || '').trim().slice(0, 512), attrs});
  });
  return out;
})()`
}

// QueryAll matches elements by CSS selector.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]docpress.ElementRef, error) {
	var raw []struct {
		Selector string            `json:"selector"`
		Index    int               `json:"index"`
		Text     string            `json:"text"`
		Attrs    map[string]string `json:"attrs"`
	}
	if err := p.Evaluate(ctx, elementQueryScript(selector), &raw); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	refs := make([]docpress.ElementRef, 0, len(raw))
	for _, el := range raw {
		refs = append(refs, docpress.ElementRef{
			Selector: el.Selector,
			Index:    el.Index,
			Text:     el.Text,
			Attrs:    el.Attrs,
		})
	}
	return refs, nil
}

// Screenshot captures the current viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Events implements docpress.PageHandle.
func (p *Page) Events() <-chan docpress.PageEvent { return p.events }

// Close cancels the tab.
func (p *Page) Close(context.Context) error {
	p.cancel()
	return nil
}

// captureEvent translates CDP notifications into page events. It runs
// on chromedp's listener goroutine, so sends never block.
func (p *Page) captureEvent(ev any) {
	now := time.Now().UTC()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.mu.Lock()
		p.requests[e.RequestID] = &requestInfo{url: e.Request.URL, start: now}
		p.mu.Unlock()
		p.push(docpress.PageEvent{Kind: docpress.EventRequestStart, URL: e.Request.URL, At: now})
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.mu.Lock()
		if info, ok := p.requests[e.RequestID]; ok {
			info.status = int(e.Response.Status)
		} else {
			p.requests[e.RequestID] = &requestInfo{
				url:    e.Response.URL,
				start:  now,
				status: int(e.Response.Status),
			}
		}
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.mu.Lock()
		info, ok := p.requests[e.RequestID]
		delete(p.requests, e.RequestID)
		p.mu.Unlock()
		if !ok {
			return
		}
		p.push(docpress.PageEvent{
			Kind:     docpress.EventResponse,
			URL:      info.url,
			Status:   info.status,
			Duration: now.Sub(info.start),
			At:       now,
		})
	case *network.EventLoadingFailed:
		p.mu.Lock()
		info, ok := p.requests[e.RequestID]
		delete(p.requests, e.RequestID)
		p.mu.Unlock()
		evt := docpress.PageEvent{
			Kind:    docpress.EventRequestFailed,
			Failure: e.ErrorText,
			At:      now,
		}
		if ok {
			evt.URL = info.url
		}
		p.push(evt)
	case *cdppage.EventDomContentEventFired:
		p.push(docpress.PageEvent{Kind: docpress.EventDOMReady, At: now})
	case *cdppage.EventLoadEventFired:
		p.push(docpress.PageEvent{Kind: docpress.EventLoad, At: now})
	}
}

func (p *Page) push(evt docpress.PageEvent) {
	select {
	case p.events <- evt:
	default:
		p.dropped.Add(1)
	}
}

// mergeDeadline runs tab actions under the caller's deadline while
// keeping the tab's session context.
func mergeDeadline(tabCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callCtx.Deadline(); ok {
		return context.WithDeadline(tabCtx, deadline)
	}
	return context.WithCancel(tabCtx)
}
