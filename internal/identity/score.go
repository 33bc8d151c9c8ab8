package identity

import "github.com/leadharvest/leadharvest/internal/discovery"

// Completeness weights. They sum to 100 so the score stays in [0,100].
const (
	weightWebsite = 30
	weightEmail   = 25
	weightPhone   = 25
	weightAddress = 20
)

// CompletenessScore rates how fully the record describes a reachable
// business. Recomputed after every insert or update.
func CompletenessScore(b discovery.BusinessIdentity) int {
	score := 0
	if b.Website != "" {
		score += weightWebsite
	}
	if b.Email != "" {
		score += weightEmail
	}
	if b.Phone != "" {
		score += weightPhone
	}
	if b.Street != "" && b.Locality != "" {
		score += weightAddress
	}
	return score
}
