// Package postgres persists contact candidates and their provenance.
//
// Expected schema:
//
//	CREATE TABLE contacts (
//	    id         BIGSERIAL PRIMARY KEY,
//	    type       TEXT NOT NULL,
//	    value      TEXT NOT NULL,
//	    platform   TEXT NOT NULL DEFAULT '',
//	    confidence DOUBLE PRECISION NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    CONSTRAINT contacts_type_value_key UNIQUE (type, value)
//	);
//	CREATE TABLE contact_sources (
//	    contact_id  BIGINT NOT NULL REFERENCES contacts(id),
//	    business_id BIGINT NOT NULL,
//	    source_url  TEXT NOT NULL,
//	    page_type   TEXT NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (contact_id, business_id, source_url)
//	);
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadharvest/leadharvest/internal/discovery"
)

// Config controls the Postgres connection pool for the contact store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements discovery.ContactStore. A repeated (type, value) insert
// converges on the existing row and keeps the highest confidence seen.
type Store struct {
	pool querier
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("contacts.dsn is required")
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
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

const createContactSQL = `
INSERT INTO contacts (type, value, platform, confidence)
VALUES ($1, $2, $3, $4)
ON CONFLICT (type, value) DO UPDATE
SET confidence = GREATEST(contacts.confidence, EXCLUDED.confidence)
RETURNING id`

// CreateContact inserts the candidate or converges on the existing row for
// the same (type, value), returning its id.
func (s *Store) CreateContact(ctx context.Context, candidate discovery.ContactCandidate) (int64, error) {
	if candidate.Value == "" {
		return 0, fmt.Errorf("contact value is required")
	}
	var id int64
	err := s.pool.QueryRow(ctx, createContactSQL,
		string(candidate.Type), candidate.Value, candidate.Platform, candidate.Confidence,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create contact: %w", err)
	}
	return id, nil
}

const recordSourceSQL = `
INSERT INTO contact_sources (contact_id, business_id, source_url, page_type)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`

// RecordContactSource links a contact to a business with the page it was
// found on. Re-recording the same sighting is a no-op.
func (s *Store) RecordContactSource(ctx context.Context, contactID, businessID int64, sourceURL, pageType string) error {
	if _, err := s.pool.Exec(ctx, recordSourceSQL, contactID, businessID, sourceURL, pageType); err != nil {
		return fmt.Errorf("record contact source: %w", err)
	}
	return nil
}
