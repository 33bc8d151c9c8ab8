// Package enrich probes a business's own website for contact signals that
// the directory listing does not carry.
package enrich

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/contact"
	"github.com/leadharvest/leadharvest/internal/discovery"
)

// Config controls prober behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxPages caps how many pages of one site are fetched per probe: the
	// homepage plus contact-style subpages.
	MaxPages int
}

const (
	defaultProbeTimeout = 15 * time.Second
	defaultMaxPages     = 3
)

// Prober visits a business website's homepage, follows contact-style links on
// the same host, and extracts contact candidates from every page it fetched.
type Prober struct {
	cfg       Config
	extractor *contact.Extractor
	limiter   *DomainLimiter
	transport http.RoundTripper
	logger    *zap.Logger
}

// NewProber builds a Prober. The limiter may be nil to probe unthrottled.
func NewProber(cfg Config, extractor *contact.Extractor, limiter *DomainLimiter, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if extractor == nil {
		extractor = contact.NewExtractor(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		cfg:       cfg,
		extractor: extractor,
		limiter:   limiter,
		transport: newHTTPTransport(),
		logger:    logger,
	}
}

// Probe fetches the website and returns deduplicated contact candidates from
// all pages visited. Fetch failures on individual subpages are logged and
// skipped; only a homepage that cannot be reached fails the probe.
func (p *Prober) Probe(ctx context.Context, websiteURL string) ([]discovery.ContactCandidate, error) {
	home, err := url.Parse(websiteURL)
	if err != nil || home.Hostname() == "" {
		return nil, fmt.Errorf("probe website: invalid url %q", websiteURL)
	}
	host := strings.TrimPrefix(home.Hostname(), "www.")

	collector := colly.NewCollector(
		colly.AllowedDomains(host, "www."+host),
		colly.MaxDepth(2),
	)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)
	collector.WithTransport(p.transport)

	var (
		mu      sync.Mutex
		pages   int
		merged  = contact.NewSet()
		homeErr error
	)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx, r.URL.String()); err != nil {
				r.Abort()
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		pages++
		for _, c := range p.extractor.Extract(string(r.Body), r.Request.URL.String()) {
			merged.Add(c)
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || !contact.LooksLikeContactPage(link) {
			return
		}
		mu.Lock()
		budgetLeft := pages < p.cfg.MaxPages
		mu.Unlock()
		if !budgetLeft {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			p.logger.Debug("contact subpage skipped",
				zap.String("url", link), zap.Error(err))
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Request != nil && r.Request.Depth <= 1 {
			homeErr = err
			return
		}
		p.logger.Debug("probe subpage failed", zap.Error(err))
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(home.String())
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", websiteURL, err)
		}
	}
	if homeErr != nil {
		return nil, fmt.Errorf("probe %s: %w", websiteURL, homeErr)
	}
	return merged.Candidates(), nil
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
