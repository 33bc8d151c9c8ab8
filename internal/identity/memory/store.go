// Package memory provides an in-memory business store for development/testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/identity"
)

// Store implements discovery.BusinessStore with the same dedup priority chain
// as the Postgres store: external-source id within scope first, then
// (scope, normalized name). The mutex stands in for the database's atomicity.
type Store struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]discovery.BusinessIdentity
	links  map[int64][]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		nextID: 1,
		byID:   make(map[int64]discovery.BusinessIdentity),
		links:  make(map[int64][]string),
	}
}

// Upsert inserts or merges the incoming identity.
func (s *Store) Upsert(_ context.Context, incoming discovery.BusinessIdentity) (discovery.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.match(incoming)
	if !found {
		incoming.ID = s.nextID
		s.nextID++
		incoming.Completeness = identity.CompletenessScore(incoming)
		s.byID[incoming.ID] = incoming
		return discovery.Resolution{Business: incoming, WasNew: true}, nil
	}

	merged, _ := identity.Merge(existing, incoming)
	merged.LastDiscovered = incoming.LastDiscovered
	if merged.LastDiscovered.IsZero() {
		merged.LastDiscovered = time.Now().UTC()
	}
	merged.Completeness = identity.CompletenessScore(merged)
	s.byID[merged.ID] = merged
	// The last-discovered timestamp is touched on every sighting, so a match
	// always counts as an update.
	return discovery.Resolution{Business: merged, WasUpdated: true}, nil
}

// match applies the dedup priority chain.
func (s *Store) match(incoming discovery.BusinessIdentity) (discovery.BusinessIdentity, bool) {
	if incoming.ExternalID != "" {
		for _, b := range s.byID {
			if b.DatasetID == incoming.DatasetID && b.ExternalID == incoming.ExternalID {
				return b, true
			}
		}
	}
	for _, b := range s.byID {
		if b.DatasetID != incoming.DatasetID || b.NormalizedName != incoming.NormalizedName {
			continue
		}
		// A row already claimed by a different external id is a different
		// business, name collision or not.
		if b.ExternalID == "" || b.ExternalID == incoming.ExternalID {
			return b, true
		}
	}
	return discovery.BusinessIdentity{}, false
}

// LinkToScope records a scope membership, satisfying discovery.ScopeLinker.
func (s *Store) LinkToScope(_ context.Context, businessID int64, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[businessID]; !ok {
		return fmt.Errorf("business %d not found", businessID)
	}
	for _, existing := range s.links[businessID] {
		if existing == scopeID {
			return nil
		}
	}
	s.links[businessID] = append(s.links[businessID], scopeID)
	return nil
}

// Get returns a stored identity by id.
func (s *Store) Get(businessID int64) (discovery.BusinessIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[businessID]
	return b, ok
}

// Count returns how many canonical identities exist.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
