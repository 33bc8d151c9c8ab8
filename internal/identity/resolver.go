package identity

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/telemetry"
)

// Resolver turns raw listings into canonical BusinessIdentity records via the
// store's atomic upsert. The dedup priority chain lives in the store (external
// id first, then normalized name within scope); the resolver owns validation,
// key derivation, and scope linking.
type Resolver struct {
	store  discovery.BusinessStore
	linker discovery.ScopeLinker
	clock  discovery.Clock
	logger *zap.Logger
}

// NewResolver builds a Resolver. linker may be nil when scope membership is
// maintained elsewhere.
func NewResolver(store discovery.BusinessStore, linker discovery.ScopeLinker, clock discovery.Clock, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, linker: linker, clock: clock, logger: logger}
}

// Resolve upserts the listing into its canonical identity within the scope.
// Missing scope-identifying fields are a caller contract violation: the error
// wraps discovery.ErrMissingScope and is never retried or defaulted.
func (r *Resolver) Resolve(ctx context.Context, listing discovery.ListingRecord, scope discovery.Scope) (discovery.Resolution, error) {
	if err := validateScope(scope); err != nil {
		return discovery.Resolution{}, err
	}

	incoming := r.buildIdentity(listing, scope)
	resolution, err := r.store.Upsert(ctx, incoming)
	if err != nil {
		return discovery.Resolution{}, fmt.Errorf("upsert business %q: %w", incoming.NormalizedName, err)
	}

	if r.linker != nil {
		if err := r.linker.LinkToScope(ctx, resolution.Business.ID, scope.DatasetID); err != nil {
			return discovery.Resolution{}, fmt.Errorf("link business %d to scope %q: %w", resolution.Business.ID, scope.DatasetID, err)
		}
	}

	if resolution.WasNew {
		telemetry.CountBusinessResolved("new")
	} else {
		telemetry.CountBusinessResolved("updated")
	}
	r.logger.Debug("listing resolved",
		zap.String("key", resolution.Business.NormalizedName),
		zap.Int64("business_id", resolution.Business.ID),
		zap.Bool("was_new", resolution.WasNew))
	return resolution, nil
}

func (r *Resolver) buildIdentity(listing discovery.ListingRecord, scope discovery.Scope) discovery.BusinessIdentity {
	identity := discovery.BusinessIdentity{
		DisplayName:    strings.TrimSpace(listing.Name),
		NormalizedName: Key(listing.Name, listing.ExternalID),
		Street:         strings.TrimSpace(listing.Street),
		Locality:       strings.TrimSpace(listing.Locality),
		PostalCode:     strings.TrimSpace(listing.PostalCode),
		DatasetID:      scope.DatasetID,
		CategoryID:     scope.CategoryID,
		ExternalID:     strings.TrimSpace(listing.ExternalID),
		Website:        strings.TrimSpace(listing.Website),
		Email:          strings.TrimSpace(listing.Email),
		Latitude:       listing.Latitude,
		Longitude:      listing.Longitude,
		LastDiscovered: r.clock.Now(),
	}
	if len(listing.Phones) > 0 {
		identity.Phone = strings.TrimSpace(listing.Phones[0])
	}
	identity.Completeness = CompletenessScore(identity)
	return identity
}

func validateScope(scope discovery.Scope) error {
	var missing []string
	if scope.DatasetID == "" {
		missing = append(missing, "dataset_id")
	}
	if scope.CategoryID == "" {
		missing = append(missing, "category_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", discovery.ErrMissingScope, strings.Join(missing, ", "))
	}
	return nil
}
