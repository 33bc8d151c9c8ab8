// Package identity resolves raw listings into canonical deduplicated
// business records.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/google/uuid"
)

// diacriticStripper decomposes to NFD, drops combining marks, and recomposes.
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName derives the deterministic matching key for a business name:
// lowercase, diacritics stripped via canonical decomposition, runs of
// non-letter/non-digit characters collapsed to a single separator, separators
// trimmed from both ends. The result may be empty for punctuation-only names;
// callers must use FallbackKey in that case because the stored key is never
// empty.
func NormalizeName(name string) string {
	stripped, _, err := transform.String(diacriticStripper, name)
	if err != nil {
		// Transform failures leave the raw name; lowercasing and collapsing
		// still produce a deterministic key.
		stripped = name
	}
	lower := strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(lower))
	pendingSep := false
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// FallbackKey derives a non-empty key when normalization yields nothing.
// Prefers the stable external-source id; otherwise mints a random key so the
// record is still storable and unique.
func FallbackKey(externalID string) string {
	if externalID != "" {
		return "ext-" + strings.ToLower(externalID)
	}
	return "biz-" + uuid.NewString()
}

// Key returns the normalized-name key for the name, falling back to an
// id-derived key so the result is never empty.
func Key(name, externalID string) string {
	if key := NormalizeName(name); key != "" {
		return key
	}
	return FallbackKey(externalID)
}
