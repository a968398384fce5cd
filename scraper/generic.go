package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"carwatch/config"
	"carwatch/identity"
	"carwatch/models"
)

// Selector keys the generic extractor reads from the source config:
//
//	index_item  - anchor of one result row, href is the listing URL
//	next_page   - present only while more result pages exist
//	title       - listing page title
//	price       - listing page price text
//	description - listing page description block
//	photos      - listing page gallery images
//	attributes  - key/value attribute rows (year, mileage live here)
const (
	selIndexItem   = "index_item"
	selNextPage    = "next_page"
	selTitle       = "title"
	selPrice       = "price"
	selDescription = "description"
	selPhotos      = "photos"
	selAttributes  = "attributes"
)

// GenericExtractor parses any source whose pages can be described with CSS
// selectors in its YAML config. Sources with heavier needs get a dedicated
// Extractor; so far none have.
type GenericExtractor struct {
	src *config.SourceConfig
}

func NewGenericExtractor(src *config.SourceConfig) (*GenericExtractor, error) {
	if !strings.Contains(src.IndexURL, "%d") {
		return nil, fmt.Errorf("source %s: index_url needs a %%d page placeholder", src.Tag)
	}
	if src.Selectors[selIndexItem] == "" {
		return nil, fmt.Errorf("source %s: selectors.index_item is required", src.Tag)
	}
	return &GenericExtractor{src: src}, nil
}

func (g *GenericExtractor) Tag() string {
	return g.src.Tag
}

func (g *GenericExtractor) IndexURL(pageNum int) string {
	return fmt.Sprintf(g.src.IndexURL, pageNum)
}

func (g *GenericExtractor) ParseIndex(ctx context.Context, page playwright.Page) (*IndexPage, error) {
	doc, err := pageDocument(page)
	if err != nil {
		return nil, err
	}
	return g.parseIndexDoc(doc, page.URL())
}

func (g *GenericExtractor) parseIndexDoc(doc *goquery.Document, baseURL string) (*IndexPage, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("bad base url %q: %w", baseURL, err)
	}

	out := &IndexPage{}
	doc.Find(g.src.Selectors[selIndexItem]).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		out.Entries = append(out.Entries, models.IndexEntry{
			Identifier: identity.CanonicalURL(base.ResolveReference(ref).String()),
			Title:      strings.TrimSpace(s.Text()),
		})
	})

	if next := g.src.Selectors[selNextPage]; next != "" {
		out.HasMore = doc.Find(next).Length() > 0
	}
	return out, nil
}

func (g *GenericExtractor) ParseListing(ctx context.Context, page playwright.Page) (*models.RawListing, error) {
	doc, err := pageDocument(page)
	if err != nil {
		return nil, err
	}
	return g.parseListingDoc(doc, page.URL())
}

func (g *GenericExtractor) parseListingDoc(doc *goquery.Document, pageURL string) (*models.RawListing, error) {
	sel := g.src.Selectors

	title := strings.TrimSpace(doc.Find(sel[selTitle]).First().Text())
	if title == "" {
		return nil, fmt.Errorf("no title at %s", pageURL)
	}

	raw := &models.RawListing{
		Identifier:  identity.CanonicalURL(pageURL),
		Title:       title,
		Description: strings.TrimSpace(doc.Find(sel[selDescription]).First().Text()),
		Year:        parseYear(title),
	}
	raw.Brand, raw.Model = splitBrandModel(title)
	raw.Price, raw.Currency = parsePrice(doc.Find(sel[selPrice]).First().Text())

	doc.Find(sel[selPhotos]).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "data-src"} {
			if src, ok := s.Attr(attr); ok && strings.HasPrefix(src, "http") {
				raw.Photos = append(raw.Photos, src)
				return
			}
		}
	})

	attrs := map[string]string{}
	doc.Find(sel[selAttributes]).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if key, val, ok := strings.Cut(text, ":"); ok {
			attrs[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
		}
	})
	if raw.Mileage == nil {
		raw.Mileage = mileageFromAttrs(attrs)
	}
	if raw.Year == nil {
		if y, ok := attrs["год выпуска"]; ok {
			raw.Year = parseYear(y)
		}
	}
	if len(attrs) > 0 {
		if data, err := json.Marshal(attrs); err == nil {
			raw.Data = data
		}
	}
	return raw, nil
}

func pageDocument(page playwright.Page) (*goquery.Document, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("page content: %w", err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

var yearRe = regexp.MustCompile(`\b(19[5-9]\d|20[0-4]\d)\b`)
var digitsRe = regexp.MustCompile(`\d+`)

func parseYear(s string) *int {
	m := yearRe.FindString(s)
	if m == "" {
		return nil
	}
	y, _ := strconv.Atoi(m)
	return &y
}

func parsePrice(s string) (*float64, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ""
	}

	currency := ""
	switch {
	case strings.ContainsAny(s, "₽") || strings.Contains(strings.ToLower(s), "руб"):
		currency = "RUB"
	case strings.Contains(s, "$"):
		currency = "USD"
	case strings.Contains(s, "€"):
		currency = "EUR"
	}

	joined := strings.Join(digitsRe.FindAllString(s, -1), "")
	if joined == "" {
		return nil, currency
	}
	val, err := strconv.ParseFloat(joined, 64)
	if err != nil {
		return nil, currency
	}
	return &val, currency
}

func splitBrandModel(title string) (brand, model string) {
	head := title
	if cut, _, ok := strings.Cut(head, ","); ok {
		head = cut
	}
	fields := strings.Fields(head)
	if len(fields) > 0 {
		brand = fields[0]
	}
	if len(fields) > 1 {
		model = strings.Join(fields[1:], " ")
	}
	return brand, model
}

func mileageFromAttrs(attrs map[string]string) *int {
	for key, val := range attrs {
		if !strings.Contains(key, "пробег") && !strings.Contains(key, "mileage") {
			continue
		}
		joined := strings.Join(digitsRe.FindAllString(val, -1), "")
		if joined == "" {
			return nil
		}
		if km, err := strconv.Atoi(joined); err == nil {
			return &km
		}
	}
	return nil
}
