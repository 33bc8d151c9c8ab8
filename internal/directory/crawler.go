package directory

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/telemetry"
)

// PageFetcher retrieves one raw HTML page; ok=false means no usable content.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, bool)
}

// Config controls crawler pacing and termination.
type Config struct {
	BaseURL string
	// EmptyPageThreshold stops the crawl after this many consecutive pages
	// yielded zero listings. Protects against scraping past the last real
	// result page.
	EmptyPageThreshold int
	// Concurrency bounds how many pages may be fetched in one window.
	Concurrency int
	// PageDelay and PageJitter space out windows on top of the fetcher's own
	// throttle.
	PageDelay  time.Duration
	PageJitter time.Duration
}

// Crawler drives the fetcher across result pages for a (keyword, location)
// pair, aggregating parsed listings in page order.
type Crawler struct {
	fetcher PageFetcher
	parser  *Parser
	cfg     Config
	logger  *zap.Logger
}

// NewCrawler builds a Crawler.
func NewCrawler(fetcher PageFetcher, parser *Parser, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.EmptyPageThreshold <= 0 {
		cfg.EmptyPageThreshold = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{fetcher: fetcher, parser: parser, cfg: cfg, logger: logger}
}

// Crawl aggregates listings for the keyword at the location across up to
// maxPages result pages. Failures on individual pages degrade to empty pages
// and feed the early-termination counter; they are also collected into
// result.Errors so callers can report partial outcomes.
func (c *Crawler) Crawl(ctx context.Context, keyword, location string, maxPages int) (discovery.CrawlResult, error) {
	if maxPages <= 0 {
		return discovery.CrawlResult{}, fmt.Errorf("max pages must be positive, got %d", maxPages)
	}

	result := discovery.CrawlResult{}
	emptyStreak := 0
	page := 1

	for page <= maxPages {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("crawl cancelled: %w", err)
		}
		if page > 1 {
			c.pause(ctx)
		}

		// The window never extends past the point where the empty streak could
		// complete, so a fully-empty window stops the crawl without having
		// over-fetched pages beyond the termination point.
		window := c.cfg.Concurrency
		if remaining := c.cfg.EmptyPageThreshold - emptyStreak; window > remaining {
			window = remaining
		}
		if remaining := maxPages - page + 1; window > remaining {
			window = remaining
		}

		pages, errs := c.fetchWindow(ctx, keyword, location, page, window)
		result.Errors = append(result.Errors, errs...)

		// Merge by page index so aggregation order is stable regardless of
		// which fetch finished first.
		for _, p := range pages {
			result.PagesFetched++
			telemetry.CountPageCrawled(len(p.listings) == 0)
			if p.html != "" {
				result.Pages = append(result.Pages, discovery.PageCapture{
					Page: p.page,
					URL:  p.url,
					HTML: p.html,
				})
			}
			if len(p.listings) == 0 {
				emptyStreak++
				continue
			}
			emptyStreak = 0
			result.Listings = append(result.Listings, p.listings...)
		}

		if emptyStreak >= c.cfg.EmptyPageThreshold {
			c.logger.Debug("stopping on consecutive empty pages",
				zap.String("keyword", keyword),
				zap.Int("streak", emptyStreak),
				zap.Int("last_page", page+window-1))
			break
		}
		page += window
	}

	return result, nil
}

// fetchedPage is one window slot: parsed listings plus the raw capture.
type fetchedPage struct {
	page     int
	url      string
	html     string
	listings []discovery.ListingRecord
}

// fetchWindow fetches [start, start+size) concurrently and returns per-page
// results ordered by page index.
func (c *Crawler) fetchWindow(ctx context.Context, keyword, location string, start, size int) ([]fetchedPage, []error) {
	pages := make([]fetchedPage, size)
	pageErrs := make([]error, size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i := 0; i < size; i++ {
		g.Go(func() error {
			pageNum := start + i
			url := PageURL(c.cfg.BaseURL, keyword, location, pageNum)
			pages[i] = fetchedPage{page: pageNum, url: url}
			html, ok := c.fetcher.FetchPage(gctx, url)
			if !ok {
				// Fetch failures count as empty pages; the reason was already
				// logged by the fetcher.
				pageErrs[i] = fmt.Errorf("page %d for %q yielded no content", pageNum, keyword)
				return nil
			}
			listings, err := c.parser.Parse(html, url, keyword)
			if err != nil {
				pageErrs[i] = fmt.Errorf("parse page %d for %q: %w", pageNum, keyword, err)
				return nil
			}
			pages[i].html = html
			pages[i].listings = listings
			return nil
		})
	}
	// Workers only report per-page errors through pageErrs.
	_ = g.Wait()

	var errs []error
	for _, err := range pageErrs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return pages, errs
}

func (c *Crawler) pause(ctx context.Context) {
	delay := c.cfg.PageDelay
	if c.cfg.PageJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.cfg.PageJitter)))
	}
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
