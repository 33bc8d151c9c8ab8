// Package postgres provides the Postgres-backed discovery job queue.
//
// Expected schema:
//
//	CREATE TABLE discovery_jobs (
//	    id                   TEXT PRIMARY KEY,
//	    city                 TEXT NOT NULL,
//	    industry             TEXT NOT NULL,
//	    dataset_id           TEXT NOT NULL,
//	    keywords             JSONB NOT NULL DEFAULT '[]',
//	    status               TEXT NOT NULL DEFAULT 'pending',
//	    priority             INT NOT NULL DEFAULT 0,
//	    retry_count          INT NOT NULL DEFAULT 0,
//	    max_retries          INT NOT NULL DEFAULT 3,
//	    keywords_processed   INT NOT NULL DEFAULT 0,
//	    pages_processed      INT NOT NULL DEFAULT 0,
//	    businesses_processed INT NOT NULL DEFAULT 0,
//	    scheduled_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    started_at           TIMESTAMPTZ,
//	    completed_at         TIMESTAMPTZ,
//	    last_error           TEXT NOT NULL DEFAULT '',
//	    metadata             JSONB NOT NULL DEFAULT '{}'
//	);
//	CREATE INDEX discovery_jobs_claim_idx
//	    ON discovery_jobs (priority DESC, created_at ASC)
//	    WHERE status = 'pending';
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/telemetry"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const jobColumns = `id, city, industry, dataset_id, keywords, status, priority,
	retry_count, max_retries, keywords_processed, pages_processed,
	businesses_processed, scheduled_at, created_at, started_at, completed_at,
	last_error, metadata`

// Config controls the Postgres connection pool for the job queue.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Queue implements discovery.JobQueue on Postgres. The claim statement relies
// on FOR UPDATE SKIP LOCKED so independent worker processes polling the same
// table never receive the same job.
type Queue struct {
	pool  querier
	table string
}

// New creates a Postgres-backed Queue using the provided config.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("queue.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "discovery_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Queue{pool: pool, table: table}, nil
}

// NewWithPool constructs a Queue from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "discovery_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Queue{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (q *Queue) Close() {
	if q == nil || q.pool == nil {
		return
	}
	q.pool.Close()
}

// CreateJob inserts a new pending job. Jobs normally arrive from the external
// scheduler; this exists for composition and tests.
func (q *Queue) CreateJob(ctx context.Context, job discovery.DiscoveryJob) error {
	keywords, err := json.Marshal(job.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, city, industry, dataset_id, keywords, status, priority,
	max_retries, scheduled_at, created_at, metadata)
VALUES ($1,$2,$3,$4,$5,'pending',$6,$7,$8,$9,$10)`, q.table)
	_, err = q.pool.Exec(ctx, query,
		job.ID, job.City, job.Industry, job.DatasetID, keywords,
		job.Priority, job.MaxRetries, job.ScheduledAt, job.CreatedAt, metadata)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically moves the best eligible pending job to running and
// returns it. Selection order: priority descending, then creation time
// ascending (FIFO within a tier). Returns discovery.ErrNoJob when the queue
// has nothing eligible; it never waits.
func (q *Queue) ClaimNextJob(ctx context.Context) (discovery.DiscoveryJob, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET status = 'running', started_at = now()
WHERE id = (
	SELECT id FROM %[1]s
	WHERE status = 'pending' AND scheduled_at <= now()
	ORDER BY priority DESC, created_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING `+jobColumns, q.table)

	job, err := scanJob(q.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return discovery.DiscoveryJob{}, discovery.ErrNoJob
		}
		return discovery.DiscoveryJob{}, fmt.Errorf("claim job: %w", err)
	}
	telemetry.CountJobEvent("claimed")
	return job, nil
}

// ReportProgress adds counter deltas to the job row; status is untouched, so
// workers may call it repeatedly while running.
func (q *Queue) ReportProgress(ctx context.Context, jobID string, delta discovery.JobCounters) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	keywords_processed = keywords_processed + $2,
	pages_processed = pages_processed + $3,
	businesses_processed = businesses_processed + $4
WHERE id = $1`, q.table)
	tag, err := q.pool.Exec(ctx, query, jobID,
		delta.KeywordsProcessed, delta.PagesProcessed, delta.BusinessesProcessed)
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return discovery.ErrJobNotFound
	}
	return nil
}

// CompleteJob transitions running -> completed and records final counters.
func (q *Queue) CompleteJob(ctx context.Context, jobID string, final discovery.JobCounters) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = 'completed',
	completed_at = now(),
	keywords_processed = $2,
	pages_processed = $3,
	businesses_processed = $4
WHERE id = $1 AND status = 'running'`, q.table)
	tag, err := q.pool.Exec(ctx, query, jobID,
		final.KeywordsProcessed, final.PagesProcessed, final.BusinessesProcessed)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return discovery.ErrInvalidTransition
	}
	telemetry.CountJobEvent("completed")
	return nil
}

// FailJob increments the retry counter and either re-pends the job (retryable
// failures under budget) or terminally fails it. The whole decision happens in
// one statement so concurrent observers never see an intermediate state.
func (q *Queue) FailJob(ctx context.Context, jobID, reason string, retryable bool) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	retry_count = retry_count + 1,
	last_error = $3,
	status = CASE
		WHEN $2 AND retry_count + 1 < max_retries THEN 'pending'
		ELSE 'failed'
	END,
	completed_at = CASE
		WHEN $2 AND retry_count + 1 < max_retries THEN NULL
		ELSE now()
	END,
	started_at = CASE
		WHEN $2 AND retry_count + 1 < max_retries THEN NULL
		ELSE started_at
	END
WHERE id = $1 AND status = 'running'`, q.table)
	tag, err := q.pool.Exec(ctx, query, jobID, retryable, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return discovery.ErrInvalidTransition
	}
	telemetry.CountJobEvent("failed")
	return nil
}

// CancelJob transitions pending or running -> cancelled. A running job keeps
// working until its next cooperative status check; cancellation here only
// flips the persisted state.
func (q *Queue) CancelJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'cancelled', completed_at = now()
WHERE id = $1 AND status IN ('pending', 'running')`, q.table)
	tag, err := q.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return discovery.ErrInvalidTransition
	}
	telemetry.CountJobEvent("cancelled")
	return nil
}

// GetJob fetches a job by id.
func (q *Queue) GetJob(ctx context.Context, jobID string) (discovery.DiscoveryJob, error) {
	query := fmt.Sprintf(`SELECT `+jobColumns+` FROM %s WHERE id = $1`, q.table)
	job, err := scanJob(q.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return discovery.DiscoveryJob{}, discovery.ErrJobNotFound
		}
		return discovery.DiscoveryJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (discovery.DiscoveryJob, error) {
	var (
		job      discovery.DiscoveryJob
		keywords []byte
		metadata []byte
	)
	err := row.Scan(
		&job.ID, &job.City, &job.Industry, &job.DatasetID, &keywords,
		&job.Status, &job.Priority, &job.RetryCount, &job.MaxRetries,
		&job.Counters.KeywordsProcessed, &job.Counters.PagesProcessed,
		&job.Counters.BusinessesProcessed, &job.ScheduledAt, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &job.LastError, &metadata,
	)
	if err != nil {
		return discovery.DiscoveryJob{}, err
	}
	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &job.Keywords); err != nil {
			return discovery.DiscoveryJob{}, fmt.Errorf("unmarshal keywords: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return discovery.DiscoveryJob{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return job, nil
}
