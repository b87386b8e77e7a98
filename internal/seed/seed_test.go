package seed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/docpress"
	"github.com/docpress/docpress/internal/frontier"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

func newTestFrontier() *frontier.Frontier {
	return frontier.New(&seqIDs{}, wallClock{}, nil)
}

func TestSeederCrawlsSameHost(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/guide">Guide</a>
			<a href="https://elsewhere.example.org/off-host">Off host</a>
		</body></html>`)
	})
	mux.HandleFunc("/guide", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/guide/deep">Deep</a></body></html>`)
	})
	mux.HandleFunc("/guide/deep", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>leaf</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fr := newTestFrontier()
	s := New(Config{MaxDepth: 3}, fr, nil)

	_, err := s.Seed(context.Background(), []string{srv.URL + "/"})
	require.NoError(t, err)

	pending := fr.GetByStatus(docpress.StatusPending)
	urls := make([]string, 0, len(pending))
	for _, e := range pending {
		urls = append(urls, e.URL)
	}
	require.Contains(t, urls, mustNormalize(t, srv.URL+"/"))
	require.Contains(t, urls, mustNormalize(t, srv.URL+"/guide"))
	require.Contains(t, urls, mustNormalize(t, srv.URL+"/guide/deep"))
	for _, u := range urls {
		require.NotContains(t, u, "elsewhere.example.org")
	}
}

func TestSeederRejectsMalformedStart(t *testing.T) {
	t.Parallel()

	fr := newTestFrontier()
	s := New(Config{}, fr, nil)
	_, err := s.Seed(context.Background(), []string{"not a url"})
	require.Error(t, err)
}

func TestSeederSkipsBlocklistedStart(t *testing.T) {
	t.Parallel()

	fr := newTestFrontier()
	cfg := Config{Blocklist: docpress.NewBlocklist([]string{"blocked.example.com"})}
	s := New(cfg, fr, nil)

	n, err := s.Seed(context.Background(), []string{"https://blocked.example.com/"})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, fr.CountByStatus(docpress.StatusPending))
}

func mustNormalize(t *testing.T, raw string) string {
	t.Helper()
	normalized, err := docpress.NormalizeURL(raw)
	require.NoError(t, err)
	return normalized
}
