package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/docpress"
)

func anchor(href string) docpress.ElementRef {
	return docpress.ElementRef{Selector: "a[href]", Attrs: map[string]string{"href": href}}
}

func TestLinksFinderFiltersAndAdds(t *testing.T) {
	t.Parallel()

	frontier := newFakeFrontier()
	h := newFakeHandle()
	h.refs = []docpress.ElementRef{
		anchor("https://docs.example.com/guide/setup"),
		anchor("https://other.example.org/external"),
		anchor("javascript:void(0)"),
		anchor("mailto:team@example.com"),
		anchor(""),
		anchor("https://blocked.example.com/page"),
	}
	pc := newTestContext(h)
	pc.PageState = docpress.PageReady

	cfg := DefaultLinksConfig()
	cfg.Blocklist = docpress.NewBlocklist([]string{"blocked.example.com"})
	f := NewLinksFinder(cfg, frontier, nil)

	state, err := f.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateReady, state)

	require.NoError(t, f.Run(context.Background(), pc))
	require.Equal(t, []string{"https://docs.example.com/guide/setup"}, frontier.added)
}

func TestLinksFinderResolvesRelativeHrefs(t *testing.T) {
	t.Parallel()

	frontier := newFakeFrontier()
	h := newFakeHandle()
	h.refs = []docpress.ElementRef{
		anchor("/guide/install"),
		anchor("page2.html"),
		anchor("../api/index.html"),
		anchor("#top"),
		anchor("//other.example.org/external"),
	}
	// The page lives at https://docs.example.com/guide/intro.
	pc := newTestContext(h)
	pc.PageState = docpress.PageComplete

	f := NewLinksFinder(DefaultLinksConfig(), frontier, nil)
	require.NoError(t, f.Run(context.Background(), pc))
	require.Equal(t, []string{
		"https://docs.example.com/guide/install",
		"https://docs.example.com/guide/page2.html",
		"https://docs.example.com/api/index.html",
	}, frontier.added)
}

func TestLinksFinderHarvestsTwice(t *testing.T) {
	t.Parallel()

	frontier := newFakeFrontier()
	h := newFakeHandle()
	h.refs = []docpress.ElementRef{anchor("https://docs.example.com/a")}
	pc := newTestContext(h)
	f := NewLinksFinder(DefaultLinksConfig(), frontier, nil)

	// Nothing before the DOM is ready.
	state, err := f.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateWaiting, state)

	pc.PageState = docpress.PageReady
	state, err = f.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateReady, state)
	require.NoError(t, f.Run(context.Background(), pc))

	// After the early harvest the finder idles until the load event.
	state, err = f.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateRunning, state)

	pc.PageState = docpress.PageComplete
	h.refs = append(h.refs, anchor("https://docs.example.com/late"))
	state, err = f.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateReady, state)
	require.NoError(t, f.Run(context.Background(), pc))

	state, err = f.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateCompleted, state)
	require.Len(t, frontier.added, 3)
}

func TestLinksFinderPropagatesQueryError(t *testing.T) {
	t.Parallel()

	h := newFakeHandle()
	h.queryErr = errors.New("page gone")
	pc := newTestContext(h)
	pc.PageState = docpress.PageComplete

	f := NewLinksFinder(DefaultLinksConfig(), newFakeFrontier(), nil)
	require.Error(t, f.Run(context.Background(), pc))
}
