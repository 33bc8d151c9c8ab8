package contact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/telemetry"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9 ()./\-]{5,18}[0-9]`)

	// "info (at) example (dot) com" and the bracketed variants.
	obfuscatedEmailPattern = regexp.MustCompile(
		`(?i)\b([a-z0-9._%+-]+)\s*[\(\[]\s*at\s*[\)\]]\s*([a-z0-9.-]+?)\s*[\(\[]\s*dot\s*[\)\]]\s*([a-z]{2,6})\b`)

	// File names and placeholder domains that match the email pattern but
	// never denote a reachable mailbox.
	bogusEmailPattern = regexp.MustCompile(
		`(?i)\.(png|jpe?g|gif|svg|webp|css|js)$|@(example|sentry|wixpress)\.`)
)

// Extractor pulls scored contact signals out of listing and website HTML.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor returns an Extractor. A nil logger is replaced by a no-op one.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract parses the page and returns deduplicated contact candidates, one
// per normalized value, each carrying the highest confidence observed for
// that value on this page. A page that fails to parse yields no candidates.
func (e *Extractor) Extract(pageHTML, pageURL string) []discovery.ContactCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		e.logger.Warn("contact extraction skipped, page did not parse",
			zap.String("url", pageURL), zap.Error(err))
		return nil
	}

	merged := NewSet()

	e.extractStructured(doc, pageURL, merged)
	e.extractDirectLinks(doc, pageURL, merged)
	e.extractSocialLinks(doc, pageURL, merged)
	e.extractText(doc, pageURL, merged)
	e.extractObfuscated(doc, pageURL, merged)
	e.extractForm(doc, pageURL, merged)

	out := merged.Candidates()
	for _, c := range out {
		telemetry.CountContactExtracted(string(c.Type))
	}
	return out
}

// extractStructured reads JSON-LD blocks and keeps email and telephone
// properties of LocalBusiness and Organization nodes.
func (e *Extractor) extractStructured(doc *goquery.Document, pageURL string, set *Set) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var root any
		if err := json.Unmarshal([]byte(s.Text()), &root); err != nil {
			return
		}
		walkJSONLD(root, func(node map[string]any) {
			if !isBusinessNode(node) {
				return
			}
			if email, ok := node["email"].(string); ok {
				set.Add(candidateEmail(email, pageURL, confStructured))
			}
			if phone, ok := node["telephone"].(string); ok {
				set.Add(candidatePhone(phone, pageURL, confStructured))
			}
		})
	})
}

func (e *Extractor) extractDirectLinks(doc *goquery.Document, pageURL string, set *Set) {
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		set.Add(candidateEmail(addr, pageURL, confDirectLink))
	})
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		set.Add(candidatePhone(strings.TrimPrefix(href, "tel:"), pageURL, confDirectLink))
	})
}

func (e *Extractor) extractSocialLinks(doc *goquery.Document, pageURL string, set *Set) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		platform, ok := socialPlatform(href)
		if !ok {
			return
		}
		set.Add(discovery.ContactCandidate{
			Type:       discovery.ContactTypeSocial,
			Value:      normalizeSocial(href),
			SourceURL:  pageURL,
			Confidence: confSocialLink,
			Platform:   platform,
		})
	})
}

// extractText scans visible text for email and phone patterns. Footer text is
// scanned separately so a match appearing only there gets the footer score.
func (e *Extractor) extractText(doc *goquery.Document, pageURL string, set *Set) {
	footer := doc.Find("footer, .footer, #footer")
	footerText := footer.Text()
	bodyText := doc.Find("body").Text()
	if bodyText == "" {
		bodyText = doc.Text()
	}

	addMatches := func(text string, inFooter bool) {
		conf := pathConfidence(pageURL, inFooter)
		for _, m := range emailPattern.FindAllString(text, -1) {
			set.Add(candidateEmail(m, pageURL, conf))
		}
		for _, m := range phonePattern.FindAllString(text, -1) {
			set.Add(candidatePhone(m, pageURL, conf))
		}
	}
	addMatches(footerText, true)
	addMatches(bodyText, false)
}

func (e *Extractor) extractObfuscated(doc *goquery.Document, pageURL string, set *Set) {
	conf := capConfidence(pathConfidence(pageURL, false) + obfuscatedBonus)
	for _, m := range obfuscatedEmailPattern.FindAllStringSubmatch(doc.Text(), -1) {
		addr := fmt.Sprintf("%s@%s.%s", m[1], m[2], m[3])
		set.Add(candidateEmail(addr, pageURL, conf))
	}
}

// extractForm records a single boolean contact-form signal when the page has
// a form with at least one text input or textarea.
func (e *Extractor) extractForm(doc *goquery.Document, pageURL string, set *Set) {
	found := false
	doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("textarea, input[type='text'], input[type='email'], input:not([type])").Length() > 0 {
			found = true
			return false
		}
		return true
	})
	if !found {
		return
	}
	set.Add(discovery.ContactCandidate{
		Type:       discovery.ContactTypeForm,
		Value:      "contact_form",
		SourceURL:  pageURL,
		Confidence: pathConfidence(pageURL, false),
	})
}

func candidateEmail(raw, pageURL string, conf float64) discovery.ContactCandidate {
	return discovery.ContactCandidate{
		Type:       discovery.ContactTypeEmail,
		Value:      strings.ToLower(strings.TrimSpace(raw)),
		SourceURL:  pageURL,
		Confidence: conf,
	}
}

func candidatePhone(raw, pageURL string, conf float64) discovery.ContactCandidate {
	return discovery.ContactCandidate{
		Type:       discovery.ContactTypePhone,
		Value:      strings.TrimSpace(raw),
		SourceURL:  pageURL,
		Confidence: conf,
	}
}

func isBusinessNode(node map[string]any) bool {
	switch t := node["@type"].(type) {
	case string:
		return t == "LocalBusiness" || t == "Organization"
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && (s == "LocalBusiness" || s == "Organization") {
				return true
			}
		}
	}
	return false
}

// walkJSONLD visits every object node in a decoded JSON-LD document,
// including @graph members and nested values.
func walkJSONLD(v any, fn func(map[string]any)) {
	switch n := v.(type) {
	case map[string]any:
		fn(n)
		for _, child := range n {
			walkJSONLD(child, fn)
		}
	case []any:
		for _, child := range n {
			walkJSONLD(child, fn)
		}
	}
}

func normalizeSocial(link string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(link)), "/")
}

// Set deduplicates candidates by type and normalized value, keeping
// the highest confidence seen and preserving first-seen order.
type Set struct {
	byKey map[string]int
	items []discovery.ContactCandidate
}

func NewSet() *Set {
	return &Set{byKey: make(map[string]int)}
}

func (s *Set) Add(c discovery.ContactCandidate) {
	if !s.valid(c) {
		return
	}
	key := string(c.Type) + "\x00" + s.normalize(c)
	if i, ok := s.byKey[key]; ok {
		if c.Confidence > s.items[i].Confidence {
			s.items[i].Confidence = c.Confidence
		}
		return
	}
	s.byKey[key] = len(s.items)
	s.items = append(s.items, c)
}

func (s *Set) valid(c discovery.ContactCandidate) bool {
	switch c.Type {
	case discovery.ContactTypeEmail:
		return emailPattern.MatchString(c.Value) && !bogusEmailPattern.MatchString(c.Value)
	case discovery.ContactTypePhone:
		return digitCount(c.Value) >= 7 && digitCount(c.Value) <= 15
	default:
		return c.Value != ""
	}
}

func (s *Set) normalize(c discovery.ContactCandidate) string {
	if c.Type == discovery.ContactTypePhone {
		var b strings.Builder
		for i, r := range c.Value {
			if r >= '0' && r <= '9' || (r == '+' && i == 0) {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return c.Value
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func (s *Set) Candidates() []discovery.ContactCandidate {
	return s.items
}
