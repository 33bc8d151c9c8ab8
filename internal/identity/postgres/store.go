// Package postgres provides the Postgres-backed canonical business store.
//
// Expected schema:
//
//	CREATE TABLE businesses (
//	    id              BIGSERIAL PRIMARY KEY,
//	    display_name    TEXT NOT NULL,
//	    normalized_name TEXT NOT NULL,
//	    street          TEXT NOT NULL DEFAULT '',
//	    locality        TEXT NOT NULL DEFAULT '',
//	    postal_code     TEXT NOT NULL DEFAULT '',
//	    dataset_id      TEXT NOT NULL,
//	    category_id     TEXT NOT NULL,
//	    external_id     TEXT NOT NULL DEFAULT '',
//	    website         TEXT NOT NULL DEFAULT '',
//	    email           TEXT NOT NULL DEFAULT '',
//	    phone           TEXT NOT NULL DEFAULT '',
//	    latitude        DOUBLE PRECISION,
//	    longitude       DOUBLE PRECISION,
//	    last_discovered TIMESTAMPTZ NOT NULL,
//	    completeness    INT NOT NULL DEFAULT 0
//	);
//	CREATE UNIQUE INDEX businesses_external_scope_key
//	    ON businesses (dataset_id, external_id) WHERE external_id <> '';
//	CREATE UNIQUE INDEX businesses_name_scope_key
//	    ON businesses (dataset_id, normalized_name) WHERE external_id = '';
//
// Both uniqueness guarantees are partial: a row keyed by an external id is
// unique on that id, and only rows without one are unique on the normalized
// name. This lets two businesses that share a name but carry different
// external ids coexist.
//	CREATE TABLE business_scopes (
//	    business_id BIGINT NOT NULL REFERENCES businesses(id),
//	    scope_id    TEXT NOT NULL,
//	    PRIMARY KEY (business_id, scope_id)
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/identity"
)

const businessColumns = `id, display_name, normalized_name, street, locality,
	postal_code, dataset_id, category_id, external_id, website, email, phone,
	latitude, longitude, last_discovered, completeness`

// Config controls the Postgres connection pool for the business store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store implements discovery.BusinessStore and discovery.ScopeLinker.
//
// The upsert runs in a transaction: match candidates are locked with
// SELECT ... FOR UPDATE, the merge happens in Go against the locked row, and
// the insert path races through ON CONFLICT DO NOTHING. When a concurrent
// writer wins that race this writer re-selects the winner's row and merges
// into it, so two concurrent resolves for one key always converge on one row.
type Store struct {
	pool txBeginner
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("identity.dsn is required")
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
func NewWithPool(pool txBeginner) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts or merges the incoming identity atomically.
func (s *Store) Upsert(ctx context.Context, incoming discovery.BusinessIdentity) (discovery.Resolution, error) {
	if incoming.NormalizedName == "" {
		return discovery.Resolution{}, fmt.Errorf("normalized name must not be empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return discovery.Resolution{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	resolution, err := s.upsertInTx(ctx, tx, incoming)
	if err != nil {
		return discovery.Resolution{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return discovery.Resolution{}, fmt.Errorf("commit upsert: %w", err)
	}
	return resolution, nil
}

func (s *Store) upsertInTx(ctx context.Context, tx pgx.Tx, incoming discovery.BusinessIdentity) (discovery.Resolution, error) {
	existing, found, err := s.lockMatch(ctx, tx, incoming)
	if err != nil {
		return discovery.Resolution{}, err
	}
	if found {
		return s.mergeLocked(ctx, tx, existing, incoming)
	}

	inserted, err := s.tryInsert(ctx, tx, incoming)
	if err != nil {
		return discovery.Resolution{}, err
	}
	if inserted != nil {
		return discovery.Resolution{Business: *inserted, WasNew: true}, nil
	}

	// A concurrent writer inserted the same key between our lock attempt and
	// the insert. Lock its row and merge into it.
	existing, found, err = s.lockMatch(ctx, tx, incoming)
	if err != nil {
		return discovery.Resolution{}, err
	}
	if !found {
		return discovery.Resolution{}, fmt.Errorf("upsert race lost but row not found for key %q", incoming.NormalizedName)
	}
	return s.mergeLocked(ctx, tx, existing, incoming)
}

// lockMatch applies the dedup priority chain: external id within scope first,
// then (scope, normalized name), locking whichever row matches.
func (s *Store) lockMatch(ctx context.Context, tx pgx.Tx, incoming discovery.BusinessIdentity) (discovery.BusinessIdentity, bool, error) {
	if incoming.ExternalID != "" {
		row := tx.QueryRow(ctx, `SELECT `+businessColumns+`
FROM businesses WHERE dataset_id = $1 AND external_id = $2 FOR UPDATE`,
			incoming.DatasetID, incoming.ExternalID)
		existing, err := scanBusiness(row)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return discovery.BusinessIdentity{}, false, fmt.Errorf("lock by external id: %w", err)
		}
	}

	// The name match skips rows already claimed by a different external id:
	// those are distinct businesses that happen to share a name.
	row := tx.QueryRow(ctx, `SELECT `+businessColumns+`
FROM businesses WHERE dataset_id = $1 AND normalized_name = $2
	AND (external_id = '' OR external_id = $3) FOR UPDATE`,
		incoming.DatasetID, incoming.NormalizedName, incoming.ExternalID)
	existing, err := scanBusiness(row)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return discovery.BusinessIdentity{}, false, fmt.Errorf("lock by normalized name: %w", err)
	}
	return discovery.BusinessIdentity{}, false, nil
}

func (s *Store) mergeLocked(ctx context.Context, tx pgx.Tx, existing, incoming discovery.BusinessIdentity) (discovery.Resolution, error) {
	merged, _ := identity.Merge(existing, incoming)
	merged.LastDiscovered = incoming.LastDiscovered
	merged.Completeness = identity.CompletenessScore(merged)

	_, err := tx.Exec(ctx, `UPDATE businesses SET
	display_name = $2, street = $3, locality = $4, postal_code = $5,
	dataset_id = $6, category_id = $7, external_id = $8, website = $9,
	email = $10, phone = $11, latitude = $12, longitude = $13,
	last_discovered = $14, completeness = $15
WHERE id = $1`,
		merged.ID, merged.DisplayName, merged.Street, merged.Locality,
		merged.PostalCode, merged.DatasetID, merged.CategoryID,
		merged.ExternalID, merged.Website, merged.Email, merged.Phone,
		merged.Latitude, merged.Longitude, merged.LastDiscovered,
		merged.Completeness)
	if err != nil {
		return discovery.Resolution{}, fmt.Errorf("update business %d: %w", merged.ID, err)
	}
	// Every sighting touches last_discovered, so a match always reports as an
	// update.
	return discovery.Resolution{Business: merged, WasUpdated: true}, nil
}

// tryInsert attempts the insert path; a nil result with nil error means a
// concurrent writer won the unique-constraint race.
func (s *Store) tryInsert(ctx context.Context, tx pgx.Tx, incoming discovery.BusinessIdentity) (*discovery.BusinessIdentity, error) {
	incoming.Completeness = identity.CompletenessScore(incoming)
	row := tx.QueryRow(ctx, `INSERT INTO businesses
	(display_name, normalized_name, street, locality, postal_code, dataset_id,
	 category_id, external_id, website, email, phone, latitude, longitude,
	 last_discovered, completeness)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT DO NOTHING
RETURNING id`,
		incoming.DisplayName, incoming.NormalizedName, incoming.Street,
		incoming.Locality, incoming.PostalCode, incoming.DatasetID,
		incoming.CategoryID, incoming.ExternalID, incoming.Website,
		incoming.Email, incoming.Phone, incoming.Latitude, incoming.Longitude,
		incoming.LastDiscovered, incoming.Completeness)

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert business: %w", err)
	}
	incoming.ID = id
	return &incoming, nil
}

// LinkToScope records scope membership, satisfying discovery.ScopeLinker.
func (s *Store) LinkToScope(ctx context.Context, businessID int64, scopeID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO business_scopes (business_id, scope_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, businessID, scopeID)
	if err != nil {
		return fmt.Errorf("link business %d to scope %q: %w", businessID, scopeID, err)
	}
	return nil
}

func scanBusiness(row pgx.Row) (discovery.BusinessIdentity, error) {
	var b discovery.BusinessIdentity
	err := row.Scan(
		&b.ID, &b.DisplayName, &b.NormalizedName, &b.Street, &b.Locality,
		&b.PostalCode, &b.DatasetID, &b.CategoryID, &b.ExternalID, &b.Website,
		&b.Email, &b.Phone, &b.Latitude, &b.Longitude, &b.LastDiscovered,
		&b.Completeness,
	)
	if err != nil {
		return discovery.BusinessIdentity{}, err
	}
	return b, nil
}
