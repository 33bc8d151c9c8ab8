package identity

import (
	"time"

	"github.com/leadharvest/leadharvest/internal/discovery"
)

// RefreshPolicy decides when a known business may skip re-extraction. Both the
// completeness predicate and the re-discovery TTL are explicit configuration,
// not hard-coded policy.
type RefreshPolicy struct {
	// TTL is how long a complete record stays fresh. Zero disables skipping:
	// every sighting is re-extracted.
	TTL time.Duration
	// MinCompleteness is the score at or above which a record counts as
	// complete, provided it also has a website and at least one contact.
	MinCompleteness int
}

// ShouldSkipExtraction reports whether the business already carries complete
// enough data, recently enough, to bypass contact re-extraction.
func (p RefreshPolicy) ShouldSkipExtraction(b discovery.BusinessIdentity, now time.Time) bool {
	if p.TTL <= 0 {
		return false
	}
	if now.Sub(b.LastDiscovered) >= p.TTL {
		return false
	}
	if b.Website == "" {
		return false
	}
	if b.Email == "" && b.Phone == "" {
		return false
	}
	return b.Completeness >= p.MinCompleteness
}
