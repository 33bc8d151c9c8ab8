// Package discovery defines core types shared across subsystems.
package discovery

import "time"

// JobStatus represents the lifecycle state of a discovery job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transition occurs from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Scope is the logical partition within which identity uniqueness is enforced.
type Scope struct {
	DatasetID  string `json:"dataset_id"`
	CategoryID string `json:"category_id"`
	City       string `json:"city"`
}

// ListingRecord is one raw scraped business as parsed from a results page.
// It is ephemeral: produced by the crawler, consumed immediately by the resolver.
type ListingRecord struct {
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Street     string    `json:"street"`
	Locality   string    `json:"locality"`
	PostalCode string    `json:"postal_code"`
	Phones     []string  `json:"phones"`
	Email      string    `json:"email"`
	Website    string    `json:"website"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	ExternalID string    `json:"external_id"`
	SourceURL  string    `json:"source_url"`
	CapturedAt time.Time `json:"captured_at"`
}

// BusinessIdentity is the canonical deduplicated business record.
type BusinessIdentity struct {
	ID             int64     `json:"id"`
	DisplayName    string    `json:"display_name"`
	NormalizedName string    `json:"normalized_name"`
	Street         string    `json:"street"`
	Locality       string    `json:"locality"`
	PostalCode     string    `json:"postal_code"`
	DatasetID      string    `json:"dataset_id"`
	CategoryID     string    `json:"category_id"`
	ExternalID     string    `json:"external_id,omitempty"`
	Website        string    `json:"website,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	LastDiscovered time.Time `json:"last_discovered"`
	Completeness   int       `json:"completeness"`
}

// DiscoveryJob is one queued (city, industry, scope) crawl task.
type DiscoveryJob struct {
	ID          string            `json:"id"`
	City        string            `json:"city"`
	Industry    string            `json:"industry"`
	DatasetID   string            `json:"dataset_id"`
	Keywords    []string          `json:"keywords"`
	Status      JobStatus         `json:"status"`
	Priority    int               `json:"priority"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	Counters    JobCounters       `json:"counters"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// JobCounters tracks progress stats per job.
type JobCounters struct {
	KeywordsProcessed   int `json:"keywords_processed"`
	PagesProcessed      int `json:"pages_processed"`
	BusinessesProcessed int `json:"businesses_processed"`
}

// Add returns the sum of two counter sets.
func (c JobCounters) Add(d JobCounters) JobCounters {
	return JobCounters{
		KeywordsProcessed:   c.KeywordsProcessed + d.KeywordsProcessed,
		PagesProcessed:      c.PagesProcessed + d.PagesProcessed,
		BusinessesProcessed: c.BusinessesProcessed + d.BusinessesProcessed,
	}
}

// ContactType classifies an extracted contact signal.
type ContactType string

// Contact candidate types.
const (
	ContactTypeEmail  ContactType = "email"
	ContactTypePhone  ContactType = "phone"
	ContactTypeSocial ContactType = "social"
	ContactTypeForm   ContactType = "form"
)

// ContactCandidate is one scored contact signal extracted from a page.
type ContactCandidate struct {
	Type       ContactType `json:"type"`
	Value      string      `json:"value"`
	SourceURL  string      `json:"source_url"`
	Confidence float64     `json:"confidence"`
	Platform   string      `json:"platform,omitempty"`
}

// Resolution is the outcome of resolving one listing against the canonical store.
type Resolution struct {
	Business   BusinessIdentity
	WasNew     bool
	WasUpdated bool
}

// PageCapture is the raw HTML of one successfully fetched results page.
type PageCapture struct {
	Page int
	URL  string
	HTML string
}

// CrawlResult aggregates one keyword crawl: partial results plus per-page errors.
type CrawlResult struct {
	Listings     []ListingRecord
	Pages        []PageCapture
	PagesFetched int
	Errors       []error
}
