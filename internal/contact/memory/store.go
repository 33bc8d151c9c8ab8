// Package memory provides an in-memory contact store for development/testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/leadharvest/leadharvest/internal/discovery"
)

// Source is one recorded sighting of a contact on a business's page.
type Source struct {
	ContactID  int64
	BusinessID int64
	SourceURL  string
	PageType   string
}

// Store implements discovery.ContactStore with mutex-guarded maps.
type Store struct {
	mu       sync.Mutex
	byKey    map[string]int64
	contacts map[int64]discovery.ContactCandidate
	sources  map[string]Source
	nextID   int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byKey:    make(map[string]int64),
		contacts: make(map[int64]discovery.ContactCandidate),
		sources:  make(map[string]Source),
	}
}

// CreateContact inserts the candidate or converges on the existing entry for
// the same (type, value), keeping the highest confidence.
func (s *Store) CreateContact(_ context.Context, candidate discovery.ContactCandidate) (int64, error) {
	if candidate.Value == "" {
		return 0, fmt.Errorf("contact value is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(candidate.Type) + "\x00" + candidate.Value
	if id, ok := s.byKey[key]; ok {
		existing := s.contacts[id]
		if candidate.Confidence > existing.Confidence {
			existing.Confidence = candidate.Confidence
			s.contacts[id] = existing
		}
		return id, nil
	}
	s.nextID++
	s.byKey[key] = s.nextID
	s.contacts[s.nextID] = candidate
	return s.nextID, nil
}

// RecordContactSource links a contact to a business; duplicates are no-ops.
func (s *Store) RecordContactSource(_ context.Context, contactID, businessID int64, sourceURL, pageType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[contactID]; !ok {
		return fmt.Errorf("contact %d not found", contactID)
	}
	key := fmt.Sprintf("%d/%d/%s", contactID, businessID, sourceURL)
	if _, ok := s.sources[key]; ok {
		return nil
	}
	s.sources[key] = Source{
		ContactID:  contactID,
		BusinessID: businessID,
		SourceURL:  sourceURL,
		PageType:   pageType,
	}
	return nil
}

// Get returns the stored candidate for an id.
func (s *Store) Get(id int64) (discovery.ContactCandidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	return c, ok
}

// Sources returns all recorded sightings.
func (s *Store) Sources() []Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	return out
}
