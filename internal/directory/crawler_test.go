package directory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFetcher serves canned per-page HTML and records which pages were hit.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[int]string
	fetched []int
	fail    map[int]bool
}

func (f *fakeFetcher) FetchPage(_ context.Context, rawURL string) (string, bool) {
	page := 1
	if u, err := url.Parse(rawURL); err == nil {
		if p := u.Query().Get("page"); p != "" {
			page, _ = strconv.Atoi(p)
		}
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, page)
	f.mu.Unlock()
	if f.fail[page] {
		return "", false
	}
	return f.pages[page], true
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// pageWithListings builds a results page containing n named listing blocks.
func pageWithListings(page, n int) string {
	html := `<div class="search-results">`
	for i := 0; i < n; i++ {
		html += fmt.Sprintf(
			`<article class="listing" data-listing-id="p%d-%d"><a class="listing-name">Business %d-%d</a></article>`,
			page, i, page, i)
	}
	return html + `</div>`
}

func newTestCrawler(fetcher *fakeFetcher, cfg Config) *Crawler {
	cfg.BaseURL = "https://directory.example/search"
	return NewCrawler(fetcher, NewParser(nil), cfg, zap.NewNop())
}

func TestCrawlStopsOnConsecutiveEmptyPages(t *testing.T) {
	t.Parallel()

	// Pages yield [5, 0, 0]: the crawl must return the 5 listings and never
	// fetch a 4th page.
	fetcher := &fakeFetcher{pages: map[int]string{
		1: pageWithListings(1, 5),
		2: pageWithListings(2, 0),
		3: pageWithListings(3, 0),
		4: pageWithListings(4, 9),
	}}
	crawler := newTestCrawler(fetcher, Config{EmptyPageThreshold: 2, Concurrency: 2})

	result, err := crawler.Crawl(context.Background(), "bakery", "Berlin", 10)
	require.NoError(t, err)
	assert.Len(t, result.Listings, 5)
	assert.Equal(t, 3, result.PagesFetched)
	assert.Equal(t, 3, fetcher.fetchCount())
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	t.Parallel()

	pages := map[int]string{}
	for p := 1; p <= 10; p++ {
		pages[p] = pageWithListings(p, 2)
	}
	fetcher := &fakeFetcher{pages: pages}
	crawler := newTestCrawler(fetcher, Config{Concurrency: 3})

	result, err := crawler.Crawl(context.Background(), "bakery", "Berlin", 4)
	require.NoError(t, err)
	assert.Len(t, result.Listings, 8)
	assert.Equal(t, 4, fetcher.fetchCount())
}

func TestCrawlNonEmptyPageResetsEmptyStreak(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[int]string{
		1: pageWithListings(1, 1),
		2: pageWithListings(2, 0),
		3: pageWithListings(3, 2),
		4: pageWithListings(4, 0),
		5: pageWithListings(5, 0),
	}}
	crawler := newTestCrawler(fetcher, Config{EmptyPageThreshold: 2, Concurrency: 1})

	result, err := crawler.Crawl(context.Background(), "bakery", "Berlin", 10)
	require.NoError(t, err)
	assert.Len(t, result.Listings, 3)
	assert.Equal(t, 5, result.PagesFetched)
}

func TestCrawlAggregationOrderIsStableUnderConcurrency(t *testing.T) {
	t.Parallel()

	pages := map[int]string{}
	for p := 1; p <= 6; p++ {
		pages[p] = pageWithListings(p, 1)
	}
	fetcher := &fakeFetcher{pages: pages}
	crawler := newTestCrawler(fetcher, Config{Concurrency: 3})

	result, err := crawler.Crawl(context.Background(), "bakery", "Berlin", 6)
	require.NoError(t, err)
	require.Len(t, result.Listings, 6)
	for i, listing := range result.Listings {
		assert.Equal(t, fmt.Sprintf("Business %d-0", i+1), listing.Name)
	}
}

func TestCrawlCollectsPageErrorsWithoutAborting(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[int]string{
			1: pageWithListings(1, 2),
			3: pageWithListings(3, 1),
		},
		fail: map[int]bool{2: true},
	}
	crawler := newTestCrawler(fetcher, Config{EmptyPageThreshold: 2, Concurrency: 1})

	result, err := crawler.Crawl(context.Background(), "bakery", "Berlin", 3)
	require.NoError(t, err)
	assert.Len(t, result.Listings, 3)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "page 2")
}

func TestCrawlRejectsNonPositiveMaxPages(t *testing.T) {
	t.Parallel()

	crawler := newTestCrawler(&fakeFetcher{}, Config{})
	_, err := crawler.Crawl(context.Background(), "bakery", "Berlin", 0)
	require.Error(t, err)
}
