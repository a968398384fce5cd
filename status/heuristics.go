package status

import (
	"strings"
	"unicode/utf8"

	"carwatch/browser"
	"carwatch/models"
)

// Phrase lists back up the selector markers: sites redesign their DOM more
// often than they reword their banners.
var removedPhrases = []string{
	"объявление снято с публикации",
	"объявление не найдено",
	"страница не найдена",
	"удалено автором",
	"this listing has been removed",
	"ad not found",
}

var soldPhrases = []string{
	"продано",
	"товар продан",
	"автомобиль продан",
	"item has been sold",
}

// substantialBodyLen is the rendered-text floor for calling a page active
// when the core listing markers are missing.
const substantialBodyLen = 3000

// Classify turns a page observation into a listing status. Rules are
// checked strictly in order and the first match wins:
//
//  1. removal evidence              -> removed
//  2. sold evidence                 -> sold
//  3. title plus any core marker    -> active
//  4. substantial body within main  -> active
//  5. anything else                 -> unknown
//
// A removal banner on a page that still renders the old title must read as
// removed, which is why the terminal rules come first.
func Classify(facts *browser.PageFacts) models.Status {
	if facts == nil {
		return models.StatusUnknown
	}

	if facts.Has(browser.MarkerNotFound) || containsAny(facts, removedPhrases) || soft404Title(facts.Title) {
		return models.StatusRemoved
	}
	if facts.Has(browser.MarkerSoldBadge) || containsAny(facts, soldPhrases) {
		return models.StatusSold
	}
	if facts.Has(browser.MarkerTitle) &&
		(facts.Has(browser.MarkerPrice) || facts.Has(browser.MarkerDescription) ||
			facts.Has(browser.MarkerGallery) || facts.Has(browser.MarkerMain)) {
		return models.StatusActive
	}
	if facts.BodyLen >= substantialBodyLen && facts.Has(browser.MarkerMain) {
		return models.StatusActive
	}
	return models.StatusUnknown
}

// soft404Title catches pages that answer 200 but carry an error-page title.
// Only short titles count, since error pages keep their titles terse while
// listing headlines run long.
func soft404Title(title string) bool {
	if title == "" || utf8.RuneCountInString(title) >= 50 {
		return false
	}
	t := strings.ToLower(title)
	return strings.Contains(t, "404") ||
		strings.Contains(t, "не найдена") ||
		strings.Contains(t, "not found")
}

func containsAny(facts *browser.PageFacts, phrases []string) bool {
	for _, p := range phrases {
		if facts.ContainsText(p) {
			return true
		}
	}
	return false
}
