// Package fetch implements the rate-limited, retrying page fetcher.
package fetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/telemetry"
)

// Failure reason codes logged when a page degrades to "no content".
const (
	reasonNetwork   = "network_error"
	reasonStatus    = "terminal_status"
	reasonChallenge = "challenge_page"
	reasonExhausted = "retries_exhausted"
	reasonCancelled = "context_cancelled"
)

// Config controls fetcher behavior.
type Config struct {
	UserAgent        string
	Accept           string
	AcceptLanguage   string
	Referer          string
	Timeout          time.Duration
	Backoff          BackoffTable
	RetryStatuses    []int
	ChallengeMarkers []string
	MaxBodyBytes     int64
}

// Fetcher retrieves raw HTML pages behind a shared spacing gate. It never
// returns an error to callers: every failure mode degrades to ok=false with a
// logged reason code.
type Fetcher struct {
	cfg           Config
	gate          *Gate
	client        *http.Client
	retryStatuses map[int]struct{}
	markers       []string
	logger        *zap.Logger
}

// sleeper lets tests observe backoff waits without real delays.
type sleeper func(ctx context.Context, d time.Duration) bool

// New builds a Fetcher sharing the provided gate.
func New(cfg Config, gate *Gate, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if cfg.Accept == "" {
		cfg.Accept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.9"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoffTable
	}
	if len(cfg.RetryStatuses) == 0 {
		cfg.RetryStatuses = []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	}
	if len(cfg.ChallengeMarkers) == 0 {
		cfg.ChallengeMarkers = []string{"captcha", "challenge", "cf-browser-verification"}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 * 1024 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	retryable := make(map[int]struct{}, len(cfg.RetryStatuses))
	for _, code := range cfg.RetryStatuses {
		retryable[code] = struct{}{}
	}
	markers := make([]string, 0, len(cfg.ChallengeMarkers))
	for _, m := range cfg.ChallengeMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			markers = append(markers, m)
		}
	}
	return &Fetcher{
		cfg:  cfg,
		gate: gate,
		// The timeout is per attempt and fires regardless of gate state because
		// it is applied to the request, not to the acquire.
		client:        &http.Client{Timeout: cfg.Timeout},
		retryStatuses: retryable,
		markers:       markers,
		logger:        logger,
	}
}

// FetchPage retrieves the URL and returns its HTML body. ok=false means the
// page yielded no usable content; the reason has already been logged.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (string, bool) {
	return f.fetchPage(ctx, url, sleepCtx)
}

func (f *Fetcher) fetchPage(ctx context.Context, url string, sleep sleeper) (string, bool) {
	attempts := f.cfg.Backoff.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := f.cfg.Backoff.Delay(attempt); delay > 0 {
			if !sleep(ctx, delay) {
				f.logFailure(url, reasonCancelled, attempt, 0)
				return "", false
			}
		}

		body, status, err := f.attempt(ctx, url)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				telemetry.CountFetchAttempt("timeout")
				f.logFailure(url, reasonCancelled, attempt, 0)
				return "", false
			}
			telemetry.CountFetchAttempt("retryable")
			f.logger.Debug("fetch attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
		case f.isChallenge(body):
			// Challenge pages do not consume further retry budget: retrying
			// against an anti-bot wall only burns requests.
			telemetry.CountFetchAttempt("challenge")
			f.logFailure(url, reasonChallenge, attempt, status)
			return "", false
		case status >= 200 && status < 300:
			telemetry.CountFetchAttempt("ok")
			return body, true
		case f.isRetryableStatus(status):
			telemetry.CountFetchAttempt("retryable")
			f.logger.Debug("fetch got transient status",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("status", status))
		default:
			telemetry.CountFetchAttempt("terminal")
			f.logFailure(url, reasonStatus, attempt, status)
			return "", false
		}
	}
	telemetry.CountFetchAttempt("exhausted")
	f.logFailure(url, reasonExhausted, attempts, 0)
	return "", false
}

// attempt performs one gated HTTP GET with the fixed header fingerprint.
func (f *Fetcher) attempt(ctx context.Context, url string) (string, int, error) {
	if f.gate != nil {
		if err := f.gate.Acquire(ctx); err != nil {
			return "", 0, err
		}
		defer f.gate.Release()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", f.cfg.Accept)
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	if f.cfg.Referer != "" {
		req.Header.Set("Referer", f.cfg.Referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

func (f *Fetcher) isRetryableStatus(status int) bool {
	_, ok := f.retryStatuses[status]
	return ok
}

func (f *Fetcher) isChallenge(body string) bool {
	if body == "" {
		return false
	}
	lower := strings.ToLower(body)
	for _, marker := range f.markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (f *Fetcher) logFailure(url, reason string, attempt, status int) {
	f.logger.Warn("page yielded no content",
		zap.String("url", url),
		zap.String("reason", reason),
		zap.Int("attempt", attempt),
		zap.Int("status", status))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
