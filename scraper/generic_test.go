package scraper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"carwatch/config"
)

func loadFixture(t *testing.T, name string) *goquery.Document {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("parse fixture %s: %v", name, err)
	}
	return doc
}

func testSource() *config.SourceConfig {
	return &config.SourceConfig{
		Tag:      "cars",
		IndexURL: "https://cars.example.com/all?p=%d",
		Selectors: map[string]string{
			"index_item":  "a[data-marker='item-title']",
			"next_page":   "[data-marker='pagination-button/nextPage']",
			"title":       "h1[data-marker='item-view/title-info']",
			"price":       "[data-marker='item-view/item-price']",
			"description": "[data-marker='item-view/item-description']",
			"photos":      "[data-marker='image-frame/image-wrapper'] img",
			"attributes":  "[data-marker='item-view/item-params'] li",
		},
	}
}

func TestNewGenericExtractorValidation(t *testing.T) {
	src := testSource()
	src.IndexURL = "https://cars.example.com/all"
	if _, err := NewGenericExtractor(src); err == nil {
		t.Fatal("index_url without page placeholder must be rejected")
	}

	src = testSource()
	delete(src.Selectors, "index_item")
	if _, err := NewGenericExtractor(src); err == nil {
		t.Fatal("missing index_item selector must be rejected")
	}
}

func TestIndexURL(t *testing.T) {
	g, err := NewGenericExtractor(testSource())
	if err != nil {
		t.Fatalf("NewGenericExtractor: %v", err)
	}
	if got := g.IndexURL(3); got != "https://cars.example.com/all?p=3" {
		t.Fatalf("IndexURL(3) = %q", got)
	}
}

func TestParseIndexDoc(t *testing.T) {
	g, err := NewGenericExtractor(testSource())
	if err != nil {
		t.Fatalf("NewGenericExtractor: %v", err)
	}

	page, err := g.parseIndexDoc(loadFixture(t, "index.html"), "https://cars.example.com/all?p=1")
	if err != nil {
		t.Fatalf("parseIndexDoc: %v", err)
	}

	if len(page.Entries) != 3 {
		t.Fatalf("expected 3 entries (anchor without href skipped), got %d", len(page.Entries))
	}
	// relative hrefs resolve against the index URL, tracking params drop
	if got := page.Entries[0].Identifier; got != "https://cars.example.com/car/bmw-530d_101" {
		t.Fatalf("entry 0 identifier = %q", got)
	}
	if got := page.Entries[2].Identifier; got != "https://cars.example.com/car/lada-vesta_103" {
		t.Fatalf("entry 2 identifier = %q", got)
	}
	if page.Entries[0].Title != "BMW 530d, 2019" {
		t.Fatalf("entry 0 title = %q", page.Entries[0].Title)
	}
	if !page.HasMore {
		t.Fatal("next page button present, HasMore should be true")
	}
}

func TestParseIndexDocLastPage(t *testing.T) {
	g, _ := NewGenericExtractor(testSource())
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><a data-marker="item-title" href="/car/x_1">X</a></body></html>`))

	page, err := g.parseIndexDoc(doc, "https://cars.example.com/all?p=9")
	if err != nil {
		t.Fatalf("parseIndexDoc: %v", err)
	}
	if page.HasMore {
		t.Fatal("no next page button, HasMore should be false")
	}
}

func TestParseListingDoc(t *testing.T) {
	g, err := NewGenericExtractor(testSource())
	if err != nil {
		t.Fatalf("NewGenericExtractor: %v", err)
	}

	raw, err := g.parseListingDoc(loadFixture(t, "listing.html"),
		"https://cars.example.com/car/bmw-530d_101?utm_campaign=x")
	if err != nil {
		t.Fatalf("parseListingDoc: %v", err)
	}

	if raw.Identifier != "https://cars.example.com/car/bmw-530d_101" {
		t.Fatalf("identifier = %q", raw.Identifier)
	}
	if raw.Title != "BMW 530d xDrive, 2019" {
		t.Fatalf("title = %q", raw.Title)
	}
	if raw.Brand != "BMW" || raw.Model != "530d xDrive" {
		t.Fatalf("brand/model = %q/%q", raw.Brand, raw.Model)
	}
	if raw.Year == nil || *raw.Year != 2019 {
		t.Fatalf("year = %v", raw.Year)
	}
	if raw.Price == nil || *raw.Price != 3150000 {
		t.Fatalf("price = %v", raw.Price)
	}
	if raw.Currency != "RUB" {
		t.Fatalf("currency = %q", raw.Currency)
	}
	if raw.Mileage == nil || *raw.Mileage != 87000 {
		t.Fatalf("mileage = %v", raw.Mileage)
	}
	if len(raw.Photos) != 2 {
		t.Fatalf("expected 2 absolute photos, got %v", raw.Photos)
	}
	if raw.Description != "One owner, full service history." {
		t.Fatalf("description = %q", raw.Description)
	}
	if len(raw.Data) == 0 {
		t.Fatal("attribute rows should produce raw data")
	}
}

func TestParseListingDocNoTitle(t *testing.T) {
	g, _ := NewGenericExtractor(testSource())
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><p>empty</p></body></html>`))

	if _, err := g.parseListingDoc(doc, "https://cars.example.com/car/x_1"); err == nil {
		t.Fatal("listing without title must error")
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in       string
		want     float64
		currency string
	}{
		{"3 150 000 ₽", 3150000, "RUB"},
		{"от 1 200 000 руб.", 1200000, "RUB"},
		{"$25,900", 25900, "USD"},
		{"€ 18.500", 18500, "EUR"},
	}
	for _, tc := range cases {
		got, cur := parsePrice(tc.in)
		if got == nil || *got != tc.want || cur != tc.currency {
			t.Errorf("parsePrice(%q) = %v %q, want %v %q", tc.in, got, cur, tc.want, tc.currency)
		}
	}

	if got, _ := parsePrice("цена не указана"); got != nil {
		t.Errorf("parsePrice without digits should be nil, got %v", got)
	}
}
