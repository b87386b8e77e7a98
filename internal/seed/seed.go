// Package seed populates the frontier with an initial URL set by
// shallow-crawling the documentation site without a browser.
package seed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
)

// Config controls the seeding crawl.
type Config struct {
	UserAgent string
	// MaxDepth bounds how many link hops from the start URLs are
	// followed (default 2).
	MaxDepth int
	// Timeout bounds each HTTP request (default 15s).
	Timeout time.Duration
	// Category tags seeded entries in the frontier.
	Category string
	// Blocklist suppresses hosts that must never be seeded.
	Blocklist *docpress.Blocklist
}

// Seeder discovers same-host pages over plain HTTP and adds them as
// PENDING entries. Pages needing JavaScript are still picked up later
// by the in-browser link discovery; seeding just gives the slot pool a
// head start.
type Seeder struct {
	cfg      Config
	frontier docpress.Frontier
	logger   *zap.Logger
}

// New builds a Seeder.
func New(cfg Config, frontier docpress.Frontier, logger *zap.Logger) *Seeder {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Category == "" {
		cfg.Category = "seed"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{cfg: cfg, frontier: frontier, logger: logger}
}

// Seed crawls from each start URL and returns how many entries the
// frontier holds afterwards for the seeded set.
func (s *Seeder) Seed(ctx context.Context, startURLs []string) (int, error) {
	total := 0
	for _, start := range startURLs {
		normalized, err := docpress.NormalizeURL(start)
		if err != nil {
			return total, fmt.Errorf("seed %q: %w", start, err)
		}
		if s.cfg.Blocklist.MatchesURL(normalized) {
			s.logger.Warn("start url is blocklisted, skipping", zap.String("url", normalized))
			continue
		}
		n, err := s.crawl(ctx, normalized)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Seeder) crawl(ctx context.Context, start string) (int, error) {
	host := docpress.Host(start)
	collector := colly.NewCollector(
		colly.Async(false),
		colly.MaxDepth(s.cfg.MaxDepth),
		colly.AllowedDomains(host),
	)
	collector.WithTransport(newHTTPTransport())
	collector.SetRequestTimeout(s.cfg.Timeout)
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}

	added := 0
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if docpress.Host(link) != host {
			return
		}
		if s.cfg.Blocklist.MatchesURL(link) {
			return
		}
		if _, err := s.frontier.Add(link, s.cfg.Category); err == nil {
			added++
		}
		_ = e.Request.Visit(link)
	})
	collector.OnError(func(r *colly.Response, err error) {
		s.logger.Debug("seed request failed",
			zap.String("url", r.Request.URL.String()), zap.Error(err))
	})

	if _, err := s.frontier.Add(start, s.cfg.Category); err != nil {
		return 0, err
	}
	added++

	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- collector.Visit(start)
	}()
	select {
	case <-ctx.Done():
		return added, fmt.Errorf("seed crawl canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return added, fmt.Errorf("seed visit %s: %w", start, err)
		}
	}
	collector.Wait()

	s.logger.Info("seed crawl finished",
		zap.String("start", start),
		zap.Int("added", added))
	return added, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
