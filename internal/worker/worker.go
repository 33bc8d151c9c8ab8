// Package worker implements the discovery job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/identity"
)

// KeywordCrawler walks directory result pages for one keyword at a location.
type KeywordCrawler interface {
	Crawl(ctx context.Context, keyword, location string, maxPages int) (discovery.CrawlResult, error)
}

// ListingResolver resolves one raw listing into a canonical business.
type ListingResolver interface {
	Resolve(ctx context.Context, listing discovery.ListingRecord, scope discovery.Scope) (discovery.Resolution, error)
}

// ContactExtractor pulls scored contact candidates out of page HTML.
type ContactExtractor interface {
	Extract(pageHTML, pageURL string) []discovery.ContactCandidate
}

// WebsiteProber fetches a business website and extracts contact candidates.
type WebsiteProber interface {
	Probe(ctx context.Context, websiteURL string) ([]discovery.ContactCandidate, error)
}

// Config controls Worker behavior.
type Config struct {
	MaxPagesPerKeyword int
	QuotaUnitsPerPage  int
	PollInterval       time.Duration
	CompletionTopic    string
	SnapshotPrefix     string
	ContentType        string
}

// Deps bundles Worker collaborators.
type Deps struct {
	Queue     discovery.JobQueue
	Crawler   KeywordCrawler
	Resolver  ListingResolver
	Extractor ContactExtractor
	Prober    WebsiteProber
	Contacts  discovery.ContactStore
	Snapshots discovery.SnapshotStore
	Publisher discovery.Publisher
	Quota     discovery.QuotaService
	Policy    identity.RefreshPolicy
	Clock     discovery.Clock
}

// Worker claims discovery jobs and drives the crawl, resolve, and extract
// pipeline for each keyword. Collaborators other than the queue, crawler, and
// resolver are optional: a nil snapshot store, publisher, quota service, or
// prober disables that step.
type Worker struct {
	queue     discovery.JobQueue
	crawler   KeywordCrawler
	resolver  ListingResolver
	extractor ContactExtractor
	prober    WebsiteProber
	contacts  discovery.ContactStore
	snapshots discovery.SnapshotStore
	publisher discovery.Publisher
	quota     discovery.QuotaService
	policy    identity.RefreshPolicy
	clock     discovery.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxPagesPerKeyword <= 0 {
		cfg.MaxPagesPerKeyword = 10
	}
	if cfg.QuotaUnitsPerPage <= 0 {
		cfg.QuotaUnitsPerPage = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     deps.Queue,
		crawler:   deps.Crawler,
		resolver:  deps.Resolver,
		extractor: deps.Extractor,
		prober:    deps.Prober,
		contacts:  deps.Contacts,
		snapshots: deps.Snapshots,
		publisher: deps.Publisher,
		quota:     deps.Quota,
		policy:    deps.Policy,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, claiming and processing jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.ClaimNextJob(ctx)
		switch {
		case errors.Is(err, discovery.ErrNoJob):
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim next job failed", zap.Error(err))
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}
		w.processJob(ctx, job)
	}
}

// ProcessOne claims and processes a single job. Returns discovery.ErrNoJob
// when nothing is eligible.
func (w *Worker) ProcessOne(ctx context.Context) error {
	job, err := w.queue.ClaimNextJob(ctx)
	if err != nil {
		return err
	}
	w.processJob(ctx, job)
	return nil
}

func (w *Worker) processJob(ctx context.Context, job discovery.DiscoveryJob) {
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("city", job.City),
		zap.String("industry", job.Industry),
	)
	logger.Info("job claimed", zap.Int("keywords", len(job.Keywords)))

	scope := discovery.Scope{
		DatasetID:  job.DatasetID,
		CategoryID: job.Industry,
		City:       job.City,
	}

	total := discovery.JobCounters{}
	crawlFailures := 0
	lastErr := ""

	for i, keyword := range job.Keywords {
		// Cancellation is cooperative: honored between keyword batches,
		// never mid-fetch.
		if i > 0 && w.isCancelled(ctx, job.ID) {
			logger.Info("job cancelled mid-run", zap.Int("keywords_done", i))
			return
		}

		if err := w.enforceQuota(ctx, job); err != nil {
			w.failJob(ctx, job.ID, fmt.Sprintf("quota denied: %v", err), true, logger)
			return
		}

		delta, err := w.processKeyword(ctx, job, keyword, scope, logger)
		total = total.Add(delta)
		if err != nil {
			// A scope contract violation can never succeed on retry.
			if errors.Is(err, discovery.ErrMissingScope) {
				w.failJob(ctx, job.ID, err.Error(), false, logger)
				return
			}
			crawlFailures++
			lastErr = err.Error()
			if ctx.Err() != nil {
				w.failJob(ctx, job.ID, lastErr, true, logger)
				return
			}
			continue
		}

		if err := w.queue.ReportProgress(ctx, job.ID, delta); err != nil {
			logger.Warn("progress report failed", zap.Error(err))
		}
	}

	if len(job.Keywords) > 0 && crawlFailures == len(job.Keywords) {
		w.failJob(ctx, job.ID, lastErr, true, logger)
		return
	}

	if err := w.queue.CompleteJob(ctx, job.ID, total); err != nil {
		logger.Error("complete job failed", zap.Error(err))
		return
	}
	// Job lifecycle events are counted by the queue, which also sees claims
	// and cancels from other processes.
	logger.Info("job completed",
		zap.Int("pages", total.PagesProcessed),
		zap.Int("businesses", total.BusinessesProcessed))
	w.publishOutcome(ctx, job.ID, string(discovery.JobStatusCompleted), total, "")
}

func (w *Worker) processKeyword(
	ctx context.Context,
	job discovery.DiscoveryJob,
	keyword string,
	scope discovery.Scope,
	logger *zap.Logger,
) (discovery.JobCounters, error) {
	delta := discovery.JobCounters{}

	result, err := w.crawler.Crawl(ctx, keyword, job.City, w.cfg.MaxPagesPerKeyword)
	if err != nil {
		return delta, fmt.Errorf("crawl %q: %w", keyword, err)
	}
	delta.KeywordsProcessed = 1
	delta.PagesProcessed = result.PagesFetched
	for _, crawlErr := range result.Errors {
		logger.Warn("page degraded", zap.String("keyword", keyword), zap.Error(crawlErr))
	}

	pageCandidates := w.snapshotAndExtract(ctx, job.ID, keyword, result.Pages, logger)

	for _, listing := range result.Listings {
		resolution, err := w.resolver.Resolve(ctx, listing, scope)
		if err != nil {
			if errors.Is(err, discovery.ErrMissingScope) {
				return delta, fmt.Errorf("resolve listing: %w", err)
			}
			logger.Warn("listing resolution failed",
				zap.String("name", listing.Name), zap.Error(err))
			continue
		}
		delta.BusinessesProcessed++

		w.harvestContacts(ctx, resolution.Business, listing, pageCandidates, logger)
	}

	return delta, nil
}

// snapshotAndExtract persists raw page HTML and extracts listing-page contact
// candidates, grouped by source URL. Snapshot failures are logged and skipped.
func (w *Worker) snapshotAndExtract(
	ctx context.Context,
	jobID, keyword string,
	pages []discovery.PageCapture,
	logger *zap.Logger,
) map[string][]discovery.ContactCandidate {
	byURL := make(map[string][]discovery.ContactCandidate, len(pages))
	for _, page := range pages {
		if w.snapshots != nil {
			path := w.snapshotPath(jobID, keyword, page.Page)
			if _, err := w.snapshots.Put(ctx, path, w.cfg.ContentType, []byte(page.HTML)); err != nil {
				logger.Warn("snapshot write failed",
					zap.String("path", path), zap.Error(err))
			}
		}
		if w.extractor != nil {
			byURL[page.URL] = w.extractor.Extract(page.HTML, page.URL)
		}
	}
	return byURL
}

// harvestContacts persists contact candidates for one resolved business: the
// candidates found on the directory page the listing appeared on, plus
// candidates probed from the business's own website. A complete, recently
// seen business skips the whole step.
func (w *Worker) harvestContacts(
	ctx context.Context,
	business discovery.BusinessIdentity,
	listing discovery.ListingRecord,
	pageCandidates map[string][]discovery.ContactCandidate,
	logger *zap.Logger,
) {
	if w.contacts == nil {
		return
	}
	if w.policy.ShouldSkipExtraction(business, w.now()) {
		logger.Debug("extraction skipped, record fresh and complete",
			zap.Int64("business_id", business.ID))
		return
	}

	w.persistCandidates(ctx, business.ID, pageCandidates[listing.SourceURL], "directory_listing", logger)

	if w.prober != nil && business.Website != "" {
		cands, err := w.prober.Probe(ctx, business.Website)
		if err != nil {
			logger.Debug("website probe failed",
				zap.String("website", business.Website), zap.Error(err))
			return
		}
		w.persistCandidates(ctx, business.ID, cands, "website", logger)
	}
}

func (w *Worker) persistCandidates(
	ctx context.Context,
	businessID int64,
	candidates []discovery.ContactCandidate,
	pageType string,
	logger *zap.Logger,
) {
	for _, cand := range candidates {
		contactID, err := w.contacts.CreateContact(ctx, cand)
		if err != nil {
			logger.Warn("contact create failed",
				zap.String("value", cand.Value), zap.Error(err))
			continue
		}
		if err := w.contacts.RecordContactSource(ctx, contactID, businessID, cand.SourceURL, pageType); err != nil {
			logger.Warn("contact source record failed",
				zap.Int64("contact_id", contactID), zap.Error(err))
		}
	}
}

func (w *Worker) enforceQuota(ctx context.Context, job discovery.DiscoveryJob) error {
	if w.quota == nil {
		return nil
	}
	units := w.cfg.MaxPagesPerKeyword * w.cfg.QuotaUnitsPerPage
	return w.quota.EnforceQuota(ctx, job.DatasetID, units)
}

func (w *Worker) isCancelled(ctx context.Context, jobID string) bool {
	latest, err := w.queue.GetJob(ctx, jobID)
	if err != nil {
		w.logger.Warn("cancel check failed", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	return latest.Status == discovery.JobStatusCancelled
}

func (w *Worker) failJob(ctx context.Context, jobID, reason string, retryable bool, logger *zap.Logger) {
	if err := w.queue.FailJob(ctx, jobID, reason, retryable); err != nil {
		logger.Error("fail job failed", zap.Error(err))
		return
	}
	logger.Warn("job failed", zap.String("reason", reason), zap.Bool("retryable", retryable))
	w.publishOutcome(ctx, jobID, string(discovery.JobStatusFailed), discovery.JobCounters{}, reason)
}

func (w *Worker) publishOutcome(ctx context.Context, jobID, status string, counters discovery.JobCounters, reason string) {
	if w.publisher == nil || w.cfg.CompletionTopic == "" {
		return
	}
	payload := map[string]any{
		"job_id":               jobID,
		"status":               status,
		"keywords_processed":   counters.KeywordsProcessed,
		"pages_processed":      counters.PagesProcessed,
		"businesses_processed": counters.BusinessesProcessed,
		"timestamp":            w.now().Format(time.RFC3339),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.CompletionTopic, payload); err != nil {
		w.logger.Warn("outcome publish failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (w *Worker) snapshotPath(jobID, keyword string, page int) string {
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(keyword)), " ", "-")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/page-%d.html", jobID, slug, page)
	}
	return fmt.Sprintf("%s/%s/%s/page-%d.html", prefix, jobID, slug, page)
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now()
	}
	return w.clock.Now()
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
