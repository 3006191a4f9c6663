package discover

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-scraper/internal/scrape"
	"github.com/JakeFAU/places-scraper/internal/scrape/scrapetest"
)

func links(prefix string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("https://maps.test/place/%s-%d", prefix, i))
	}
	return out
}

func newTestDiscoverer() *Discoverer {
	d := New(Config{
		ConsentSelectors: []string{"#reject", "#accept"},
		InitialWait:      20 * time.Millisecond,
	}, nil)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestDiscoverStopsAtTarget(t *testing.T) {
	t.Parallel()

	page := &scrapetest.Page{Batches: [][]string{links("a", 4), links("a", 8), links("a", 12), links("a", 30)}}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	items, err := newTestDiscoverer().Discover(context.Background(), res, "coffee", 10)
	require.NoError(t, err)
	require.Len(t, items, 12)
	require.Equal(t, 2, page.Scrolls())
	require.True(t, page.Closed())
	require.Equal(t, []string{"https://www.google.com/maps/search/coffee"}, page.Visited())
}

func TestDiscoverStopsWhenCountIsStable(t *testing.T) {
	t.Parallel()

	page := &scrapetest.Page{Batches: [][]string{links("a", 3), links("a", 5)}}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	items, err := newTestDiscoverer().Discover(context.Background(), res, "coffee", 100)
	require.NoError(t, err)
	require.Len(t, items, 5)
	// One scroll grows the count, then three unchanged observations end the loop.
	require.Equal(t, 4, page.Scrolls())
}

func TestDiscoverDeduplicatesInFirstSeenOrder(t *testing.T) {
	t.Parallel()

	batch := []string{"u1", "u2", "u1", " ", "u3", "u2"}
	page := &scrapetest.Page{Batches: [][]string{batch}}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	items, err := newTestDiscoverer().Discover(context.Background(), res, "q", 3)
	require.NoError(t, err)
	require.Equal(t, []scrape.WorkItem{"u1", "u2", "u3"}, items)
}

func TestDiscoverReturnsEmptyWhenNothingAppears(t *testing.T) {
	t.Parallel()

	page := &scrapetest.Page{}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	items, err := newTestDiscoverer().Discover(context.Background(), res, "nothing here", 10)
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestDiscoverWaitFailureIsNotEmpty(t *testing.T) {
	t.Parallel()

	page := &scrapetest.Page{
		Batches:    [][]string{links("a", 3)},
		VisibleErr: errors.New("channel closed"),
	}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	items, err := newTestDiscoverer().Discover(context.Background(), res, "q", 3)
	require.ErrorIs(t, err, scrape.ErrDiscoveryFailed)
	require.ErrorContains(t, err, "channel closed")
	require.Nil(t, items)
	require.True(t, page.Closed())
}

func TestDiscoverDismissesConsent(t *testing.T) {
	t.Parallel()

	page := &scrapetest.Page{Batches: [][]string{links("a", 2)}, ConsentVisible: "#accept"}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	_, err := newTestDiscoverer().Discover(context.Background(), res, "q", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"#accept"}, page.Clicked())
}

func TestDiscoverNavigationFailurePropagates(t *testing.T) {
	t.Parallel()

	page := &scrapetest.Page{NavigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	_, err := newTestDiscoverer().Discover(context.Background(), res, "q", 2)
	require.ErrorIs(t, err, scrape.ErrDiscoveryFailed)
	require.True(t, page.Closed())
}

func TestDiscoverContextFailurePropagates(t *testing.T) {
	t.Parallel()

	res := scrapetest.NewResource(nil)
	res.ContextErr = errors.New("target closed")

	_, err := newTestDiscoverer().Discover(context.Background(), res, "q", 2)
	require.ErrorIs(t, err, scrape.ErrDiscoveryFailed)
}

func TestSearchURLEscapesQuery(t *testing.T) {
	t.Parallel()

	d := New(Config{SearchURLTemplate: "https://maps.test/search/%s?hl=en"}, nil)
	require.Equal(t, "https://maps.test/search/pizza+in+new+york%26co?hl=en", d.SearchURL("pizza in new york&co"))
}

func TestDiscoverHonorsScrollCap(t *testing.T) {
	t.Parallel()

	page := &scrapetest.Page{Batches: [][]string{links("a", 2), links("a", 4), links("a", 6), links("a", 8)}}
	res := scrapetest.NewResource(func() *scrapetest.Page { return page })

	d := New(Config{MaxScrolls: 2}, nil)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	items, err := d.Discover(context.Background(), res, "coffee", 100)
	require.NoError(t, err)
	require.Len(t, items, 6)
	require.Equal(t, 2, page.Scrolls())
}
