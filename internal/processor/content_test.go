package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docpress/docpress/internal/docpress"
)

func TestElementCleanerRemovesAfterLoad(t *testing.T) {
	t.Parallel()

	h := newFakeHandle()
	h.evalOut = 7
	pc := newTestContext(h)
	c := NewElementCleaner([]string{"nav", ".sidebar", ""}, nil)

	state, err := c.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateWaiting, state)

	pc.PageState = docpress.PageComplete
	state, err = c.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateReady, state)

	require.NoError(t, c.Run(context.Background(), pc))
	require.Equal(t, 7, pc.Data["elements_removed"])
	require.Len(t, h.evaluated, 1)
	require.Contains(t, h.evaluated[0], `"nav"`)
	require.Contains(t, h.evaluated[0], `".sidebar"`)

	state, err = c.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateCompleted, state)
}

func TestElementCleanerNoSelectorsIsNoOp(t *testing.T) {
	t.Parallel()

	h := newFakeHandle()
	pc := newTestContext(h)
	pc.PageState = docpress.PageComplete

	c := NewElementCleaner(nil, nil)
	require.NoError(t, c.Run(context.Background(), pc))
	require.Empty(t, h.evaluated)
}

func TestContentFinderIsolatesContent(t *testing.T) {
	t.Parallel()

	h := newFakeHandle()
	h.evalOut = true
	pc := newTestContext(h)
	pc.PageState = docpress.PageComplete

	f := NewContentFinder("main.content", nil)
	state, err := f.Detect(context.Background(), pc)
	require.NoError(t, err)
	require.Equal(t, docpress.StateReady, state)

	require.NoError(t, f.Run(context.Background(), pc))
	require.True(t, pc.ContentIsolated)
	require.Contains(t, h.evaluated[0], `"main.content"`)
}

func TestContentFinderErrsWhenSelectorMisses(t *testing.T) {
	t.Parallel()

	h := newFakeHandle()
	h.evalOut = false
	pc := newTestContext(h)
	pc.PageState = docpress.PageComplete

	f := NewContentFinder("main.content", nil)
	require.Error(t, f.Run(context.Background(), pc))
	require.False(t, pc.ContentIsolated)
}
