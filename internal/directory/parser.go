// Package directory crawls and parses paginated business-listing search results.
package directory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/leadharvest/leadharvest/internal/discovery"
)

// Selectors for the listing blocks and their micro-data attributes. The
// directory marks each result with a stable CSS class and schema.org
// itemprops.
const (
	selListing    = ".search-results article.listing"
	selName       = "a.listing-name"
	selWebsite    = "a.website-link"
	selStreet     = "[itemprop=streetAddress]"
	selLocality   = "[itemprop=addressLocality]"
	selPostalCode = "[itemprop=postalCode]"
	selPhone      = "[itemprop=telephone]"
	selEmail      = "[itemprop=email]"
)

// Parser extracts ListingRecords from a search-results HTML document.
type Parser struct {
	clock discovery.Clock
}

// NewParser builds a Parser stamping records with the provided clock.
func NewParser(clock discovery.Clock) *Parser {
	if clock == nil {
		clock = staticClock{}
	}
	return &Parser{clock: clock}
}

// Parse returns every listing block found in the document. A malformed block
// is skipped, not fatal; a document without listings yields an empty slice.
func (p *Parser) Parse(html, sourceURL, category string) ([]discovery.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var listings []discovery.ListingRecord
	doc.Find(selListing).Each(func(_ int, block *goquery.Selection) {
		record, ok := p.parseBlock(block, sourceURL, category)
		if ok {
			listings = append(listings, record)
		}
	})
	return listings, nil
}

func (p *Parser) parseBlock(block *goquery.Selection, sourceURL, category string) (discovery.ListingRecord, bool) {
	name := strings.TrimSpace(block.Find(selName).First().Text())
	if name == "" {
		return discovery.ListingRecord{}, false
	}

	record := discovery.ListingRecord{
		Name:       name,
		Category:   category,
		Street:     strings.TrimSpace(block.Find(selStreet).First().Text()),
		Locality:   strings.TrimSpace(block.Find(selLocality).First().Text()),
		PostalCode: strings.TrimSpace(block.Find(selPostalCode).First().Text()),
		Email:      strings.TrimSpace(block.Find(selEmail).First().Text()),
		ExternalID: strings.TrimSpace(block.AttrOr("data-listing-id", "")),
		SourceURL:  sourceURL,
		CapturedAt: p.clock.Now(),
	}

	block.Find(selPhone).Each(func(_ int, sel *goquery.Selection) {
		phone := strings.TrimSpace(sel.Text())
		if phone != "" {
			record.Phones = append(record.Phones, phone)
		}
	})

	if href, ok := block.Find(selWebsite).First().Attr("href"); ok {
		record.Website = strings.TrimSpace(href)
	}

	if lat, lng, ok := parseCoordinates(block); ok {
		record.Latitude = &lat
		record.Longitude = &lng
	}

	return record, true
}

func parseCoordinates(block *goquery.Selection) (float64, float64, bool) {
	latAttr := block.AttrOr("data-lat", "")
	lngAttr := block.AttrOr("data-lng", "")
	if latAttr == "" || lngAttr == "" {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(latAttr, 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(lngAttr, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// staticClock is a tiny Clock used when callers pass nil.
type staticClock struct{}

func (staticClock) Now() time.Time { return time.Now().UTC() }
