package discovery

import (
	"context"
	"time"
)

// JobQueue schedules discovery jobs across worker processes. Claim is the only
// synchronization primitive: at most one worker owns a job id at a time.
type JobQueue interface {
	// ClaimNextJob atomically transitions the highest-priority, oldest eligible
	// pending job to running and returns it. Returns ErrNoJob when nothing is
	// eligible; it never blocks waiting for work.
	ClaimNextJob(ctx context.Context) (DiscoveryJob, error)
	ReportProgress(ctx context.Context, jobID string, delta JobCounters) error
	CompleteJob(ctx context.Context, jobID string, final JobCounters) error
	FailJob(ctx context.Context, jobID string, reason string, retryable bool) error
	CancelJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (DiscoveryJob, error)
}

// BusinessStore persists canonical business identities with atomic upsert
// semantics: concurrent upserts for the same identity key converge on one row.
type BusinessStore interface {
	Upsert(ctx context.Context, incoming BusinessIdentity) (Resolution, error)
}

// ScopeLinker associates a canonical business with a scope membership.
type ScopeLinker interface {
	LinkToScope(ctx context.Context, businessID int64, scopeID string) error
}

// ContactStore persists extracted contact candidates.
type ContactStore interface {
	CreateContact(ctx context.Context, candidate ContactCandidate) (int64, error)
	RecordContactSource(ctx context.Context, contactID, businessID int64, sourceURL, pageType string) error
}

// QuotaService enforces crawl credits before a batch of resolver writes.
type QuotaService interface {
	EnforceQuota(ctx context.Context, scopeID string, estimatedUnits int) error
}

// SnapshotStore keeps raw page HTML for later re-extraction and returns a URI.
type SnapshotStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
