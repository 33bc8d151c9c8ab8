package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/identity"
	identitymem "github.com/leadharvest/leadharvest/internal/identity/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testScope = discovery.Scope{DatasetID: "ds-1", CategoryID: "cat-food", City: "Berlin"}

func newResolver(store *identitymem.Store) *identity.Resolver {
	clock := fixedClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return identity.NewResolver(store, store, clock, zap.NewNop())
}

func listing(name, externalID string) discovery.ListingRecord {
	return discovery.ListingRecord{
		Name:       name,
		ExternalID: externalID,
		Street:     "Hauptstraße 12",
		Locality:   "Berlin",
		SourceURL:  "https://directory.example/search?what=bakery",
	}
}

func TestResolveCreatesNewIdentity(t *testing.T) {
	t.Parallel()

	store := identitymem.New()
	resolver := newResolver(store)

	res, err := resolver.Resolve(context.Background(), listing("Bäckerei Müller", "ext-1"), testScope)
	require.NoError(t, err)
	assert.True(t, res.WasNew)
	assert.False(t, res.WasUpdated)
	assert.Equal(t, "backerei-muller", res.Business.NormalizedName)
	assert.Equal(t, "ds-1", res.Business.DatasetID)
	assert.Equal(t, 1, store.Count())
}

func TestResolveIdempotentUpsert(t *testing.T) {
	t.Parallel()

	store := identitymem.New()
	resolver := newResolver(store)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, listing("Bäckerei Müller", "ext-1"), testScope)
	require.NoError(t, err)
	require.True(t, first.WasNew)

	// Same listing again: exactly one canonical record, reported as an update
	// (the last-discovered timestamp is always touched), never a second insert.
	second, err := resolver.Resolve(ctx, listing("Bäckerei Müller", "ext-1"), testScope)
	require.NoError(t, err)
	assert.False(t, second.WasNew)
	assert.True(t, second.WasUpdated)
	assert.Equal(t, first.Business.ID, second.Business.ID)
	assert.Equal(t, 1, store.Count())
}

func TestResolveDedupPriorityExternalIDFirst(t *testing.T) {
	t.Parallel()

	store := identitymem.New()
	resolver := newResolver(store)
	ctx := context.Background()

	// Two listings share an external id but differ in name: one identity.
	first, err := resolver.Resolve(ctx, listing("Bäckerei Müller", "ext-9"), testScope)
	require.NoError(t, err)
	renamed, err := resolver.Resolve(ctx, listing("Müller Backstube", "ext-9"), testScope)
	require.NoError(t, err)
	assert.Equal(t, first.Business.ID, renamed.Business.ID)
	assert.Equal(t, 1, store.Count())

	// Same normalized name but different external ids: two identities.
	store2 := identitymem.New()
	resolver2 := newResolver(store2)
	a, err := resolver2.Resolve(ctx, listing("Stadtcafé", "ext-a"), testScope)
	require.NoError(t, err)
	b, err := resolver2.Resolve(ctx, listing("Stadtcafé", "ext-b"), testScope)
	require.NoError(t, err)
	assert.NotEqual(t, a.Business.ID, b.Business.ID)
	assert.Equal(t, 2, store2.Count())
}

func TestResolveNameMatchClaimsUnclaimedRowOnly(t *testing.T) {
	t.Parallel()

	store := identitymem.New()
	resolver := newResolver(store)
	ctx := context.Background()

	// A name-only identity is claimed by the first external-id sighting of
	// the same name.
	plain, err := resolver.Resolve(ctx, listing("Stadtcafé", ""), testScope)
	require.NoError(t, err)
	claimed, err := resolver.Resolve(ctx, listing("Stadtcafé", "ext-a"), testScope)
	require.NoError(t, err)
	assert.Equal(t, plain.Business.ID, claimed.Business.ID)
	assert.Equal(t, "ext-a", claimed.Business.ExternalID)

	// A row claimed by ext-a is off limits to an ext-b sighting of the same
	// name.
	other, err := resolver.Resolve(ctx, listing("Stadtcafé", "ext-b"), testScope)
	require.NoError(t, err)
	assert.NotEqual(t, claimed.Business.ID, other.Business.ID)
	assert.Equal(t, 2, store.Count())
}

func TestResolveMergesEnrichmentFields(t *testing.T) {
	t.Parallel()

	store := identitymem.New()
	resolver := newResolver(store)
	ctx := context.Background()

	bare := listing("Corner Bakery", "ext-2")
	bare.Street = ""
	bare.Locality = ""
	first, err := resolver.Resolve(ctx, bare, testScope)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Business.Completeness)

	enriched := listing("Corner Bakery", "ext-2")
	enriched.Website = "https://corner.example"
	enriched.Phones = []string{"+49 30 555"}
	second, err := resolver.Resolve(ctx, enriched, testScope)
	require.NoError(t, err)
	assert.True(t, second.WasUpdated)
	assert.Equal(t, "https://corner.example", second.Business.Website)
	assert.Equal(t, "+49 30 555", second.Business.Phone)
	// Completeness recomputed after the merge: website 30 + phone 25 + address 20.
	assert.Equal(t, 75, second.Business.Completeness)
}

func TestResolveMissingScopeFailsFast(t *testing.T) {
	t.Parallel()

	resolver := newResolver(identitymem.New())

	_, err := resolver.Resolve(context.Background(), listing("Corner Bakery", ""), discovery.Scope{DatasetID: "ds-1"})
	require.ErrorIs(t, err, discovery.ErrMissingScope)
	assert.Contains(t, err.Error(), "category_id")

	_, err = resolver.Resolve(context.Background(), listing("Corner Bakery", ""), discovery.Scope{})
	require.ErrorIs(t, err, discovery.ErrMissingScope)
}

func TestResolveSecondCrawlRunScenario(t *testing.T) {
	t.Parallel()

	store := identitymem.New()
	resolver := newResolver(store)
	ctx := context.Background()

	// First run: 12 distinct listings become 12 new identities.
	names := []string{
		"Bakery One", "Bakery Two", "Bakery Three", "Bakery Four",
		"Bakery Five", "Bakery Six", "Bakery Seven", "Bakery Eight",
		"Bakery Nine", "Bakery Ten", "Bakery Eleven", "Bakery Twelve",
	}
	for i, name := range names {
		res, err := resolver.Resolve(ctx, listing(name, ""), testScope)
		require.NoError(t, err)
		assert.True(t, res.WasNew, "listing %d", i)
	}
	require.Equal(t, 12, store.Count())

	// Second run: 2 repeats and 1 new listing -> 1 new, 2 updated, 0 errors.
	newCount, updatedCount := 0, 0
	for _, name := range []string{"Bakery One", "Bakery Two", "Bakery Thirteen"} {
		res, err := resolver.Resolve(ctx, listing(name, ""), testScope)
		require.NoError(t, err)
		if res.WasNew {
			newCount++
		} else {
			updatedCount++
		}
	}
	assert.Equal(t, 1, newCount)
	assert.Equal(t, 2, updatedCount)
	assert.Equal(t, 13, store.Count())
}

func TestResolveScopeUniquenessIsPerDataset(t *testing.T) {
	t.Parallel()

	store := identitymem.New()
	resolver := newResolver(store)
	ctx := context.Background()

	otherScope := discovery.Scope{DatasetID: "ds-2", CategoryID: "cat-food", City: "Berlin"}

	a, err := resolver.Resolve(ctx, listing("Corner Bakery", ""), testScope)
	require.NoError(t, err)
	b, err := resolver.Resolve(ctx, listing("Corner Bakery", ""), otherScope)
	require.NoError(t, err)
	assert.NotEqual(t, a.Business.ID, b.Business.ID)
}
