package identity

import "github.com/leadharvest/leadharvest/internal/discovery"

// mergePolicy states who wins when an existing record meets a new sighting.
type mergePolicy int

const (
	// incomingIfPresent keeps the existing value unless the incoming one is
	// non-empty. Used for optional enrichment fields.
	incomingIfPresent mergePolicy = iota
	// alwaysIncoming overwrites unconditionally. Used for scope-identifying
	// fields: a matched record must never retain a stale scope association.
	alwaysIncoming
)

// fieldRule binds one field's merge precedence to its accessors, keeping the
// precedence table explicit and independently testable instead of scattering
// ad hoc conditionals through the resolver.
type fieldRule struct {
	name   string
	policy mergePolicy
	get    func(*discovery.BusinessIdentity) string
	set    func(*discovery.BusinessIdentity, string)
}

var mergeRules = []fieldRule{
	{
		name:   "display_name",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.DisplayName },
		set:    func(b *discovery.BusinessIdentity, v string) { b.DisplayName = v },
	},
	{
		name:   "street",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.Street },
		set:    func(b *discovery.BusinessIdentity, v string) { b.Street = v },
	},
	{
		name:   "locality",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.Locality },
		set:    func(b *discovery.BusinessIdentity, v string) { b.Locality = v },
	},
	{
		name:   "postal_code",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.PostalCode },
		set:    func(b *discovery.BusinessIdentity, v string) { b.PostalCode = v },
	},
	{
		name:   "website",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.Website },
		set:    func(b *discovery.BusinessIdentity, v string) { b.Website = v },
	},
	{
		name:   "email",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.Email },
		set:    func(b *discovery.BusinessIdentity, v string) { b.Email = v },
	},
	{
		name:   "phone",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.Phone },
		set:    func(b *discovery.BusinessIdentity, v string) { b.Phone = v },
	},
	{
		name:   "external_id",
		policy: incomingIfPresent,
		get:    func(b *discovery.BusinessIdentity) string { return b.ExternalID },
		set:    func(b *discovery.BusinessIdentity, v string) { b.ExternalID = v },
	},
	{
		name:   "dataset_id",
		policy: alwaysIncoming,
		get:    func(b *discovery.BusinessIdentity) string { return b.DatasetID },
		set:    func(b *discovery.BusinessIdentity, v string) { b.DatasetID = v },
	},
	{
		name:   "category_id",
		policy: alwaysIncoming,
		get:    func(b *discovery.BusinessIdentity) string { return b.CategoryID },
		set:    func(b *discovery.BusinessIdentity, v string) { b.CategoryID = v },
	},
}

// Merge folds the incoming sighting into the existing record according to the
// precedence table and returns the merged record plus whether any field
// changed. Coordinates follow the enrichment policy (non-nil incoming wins);
// the last-discovered timestamp is touched unconditionally by the caller.
func Merge(existing discovery.BusinessIdentity, incoming discovery.BusinessIdentity) (discovery.BusinessIdentity, bool) {
	merged := existing
	changed := false
	for _, rule := range mergeRules {
		incomingValue := rule.get(&incoming)
		switch rule.policy {
		case incomingIfPresent:
			if incomingValue == "" || incomingValue == rule.get(&merged) {
				continue
			}
			rule.set(&merged, incomingValue)
			changed = true
		case alwaysIncoming:
			if incomingValue == rule.get(&merged) {
				continue
			}
			rule.set(&merged, incomingValue)
			changed = true
		}
	}
	if incoming.Latitude != nil && incoming.Longitude != nil {
		if merged.Latitude == nil || merged.Longitude == nil ||
			*merged.Latitude != *incoming.Latitude || *merged.Longitude != *incoming.Longitude {
			merged.Latitude = incoming.Latitude
			merged.Longitude = incoming.Longitude
			changed = true
		}
	}
	return merged, changed
}
