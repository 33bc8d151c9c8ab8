package contact

import (
	"net/url"
	"regexp"
	"strings"
)

// Confidence tiers by provenance. Structured markup and direct links are
// near-certain; bare text matches depend on where on the site they appear.
const (
	confStructured  = 0.95
	confDirectLink  = 0.95
	confSocialLink  = 0.9
	confTextBase    = 0.5
	confContactPath = 0.9
	confPrivacyPath = 0.3
	confFooter      = 0.6
	obfuscatedBonus = 0.1
)

var (
	contactPathPattern = regexp.MustCompile(`(?i)(contact|kontakt|impressum|imprint)`)
	privacyPathPattern = regexp.MustCompile(`(?i)(privacy|terms|datenschutz|agb|legal|cookie)`)
)

// pathConfidence scores a bare text match by the page it came from: a
// contact-like path boosts it, a privacy/terms path demotes it, a footer
// region gets a moderate boost when neither applies.
func pathConfidence(pageURL string, inFooter bool) float64 {
	path := pagePath(pageURL)
	switch {
	case contactPathPattern.MatchString(path):
		return confContactPath
	case privacyPathPattern.MatchString(path):
		return confPrivacyPath
	case inFooter:
		return confFooter
	default:
		return confTextBase
	}
}

// LooksLikeContactPage reports whether a URL points at a contact-style page.
func LooksLikeContactPage(pageURL string) bool {
	return contactPathPattern.MatchString(pagePath(pageURL))
}

func pagePath(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return strings.ToLower(pageURL)
	}
	return strings.ToLower(u.Path)
}

func capConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	return c
}

// socialPlatforms is the closed set of recognized platform domains.
var socialPlatforms = map[string]string{
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"linkedin.com":  "linkedin",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
	"xing.com":      "xing",
}

// socialPlatform returns the platform tag for a link host, matching bare and
// www-prefixed hosts only; unrelated subdomain tricks stay unrecognized.
func socialPlatform(linkURL string) (string, bool) {
	u, err := url.Parse(linkURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	platform, ok := socialPlatforms[host]
	return platform, ok
}
