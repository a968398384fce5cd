package scraper

import (
	"context"

	"github.com/playwright-community/playwright-go"

	"carwatch/models"
)

// IndexPage is one parsed page of a source's search results.
type IndexPage struct {
	Entries []models.IndexEntry
	HasMore bool
}

// Extractor is the per-source parsing contract. Implementations know the
// source's URL scheme and DOM; everything else (navigation, retries,
// persistence, reconciliation) is shared machinery.
type Extractor interface {
	// Tag names the source; it matches the source config tag.
	Tag() string
	// IndexURL builds the URL of the n-th results page, 1-based.
	IndexURL(pageNum int) string
	// ParseIndex reads listing references off a rendered results page.
	ParseIndex(ctx context.Context, page playwright.Page) (*IndexPage, error)
	// ParseListing reads the full record off a rendered listing page.
	ParseListing(ctx context.Context, page playwright.Page) (*models.RawListing, error)
}
