package status

import (
	"testing"

	"carwatch/browser"
	"carwatch/models"
)

func withMarkers(markers ...string) *browser.PageFacts {
	m := make(map[string]bool, len(markers))
	for _, name := range markers {
		m[name] = true
	}
	return &browser.PageFacts{BodyLen: 5000, Markers: m}
}

func TestClassifySingleRules(t *testing.T) {
	cases := []struct {
		name  string
		facts *browser.PageFacts
		want  models.Status
	}{
		{"not-found marker", withMarkers(browser.MarkerNotFound), models.StatusRemoved},
		{"removal phrase", &browser.PageFacts{BodyText: "объявление снято с публикации", BodyLen: 800}, models.StatusRemoved},
		{"soft 404 title on a thin page", &browser.PageFacts{Title: "404 Not Found", BodyLen: 120}, models.StatusRemoved},
		{"soft 404 title in russian", &browser.PageFacts{Title: "Страница не найдена", BodyLen: 300}, models.StatusRemoved},
		{"error-looking title too long to trust", &browser.PageFacts{Title: "Peugeot 404 1968 года, оригинал, полностью на ходу, обмен", BodyLen: 5000, Markers: map[string]bool{browser.MarkerTitle: true, browser.MarkerPrice: true}}, models.StatusActive},
		{"sold badge", withMarkers(browser.MarkerSoldBadge), models.StatusSold},
		{"sold phrase", &browser.PageFacts{BodyText: "автомобиль продан", BodyLen: 800}, models.StatusSold},
		{"title and price", withMarkers(browser.MarkerTitle, browser.MarkerPrice), models.StatusActive},
		{"title and gallery without price", withMarkers(browser.MarkerTitle, browser.MarkerGallery), models.StatusActive},
		{"title and description without price", withMarkers(browser.MarkerTitle, browser.MarkerDescription), models.StatusActive},
		{"substantial body in main without title", withMarkers(browser.MarkerMain), models.StatusActive},
		{"title alone", withMarkers(browser.MarkerTitle), models.StatusUnknown},
		{"substantial body without main", &browser.PageFacts{BodyLen: 5000}, models.StatusUnknown},
		{"thin body in main", &browser.PageFacts{BodyLen: 200, Markers: map[string]bool{browser.MarkerMain: true}}, models.StatusUnknown},
		{"nothing recognizable", &browser.PageFacts{BodyLen: 200}, models.StatusUnknown},
		{"nil facts", nil, models.StatusUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.facts); got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

// Every rule must beat every rule below it: a removal banner on a page that
// still renders the listing body reads as removed, a sold badge next to a
// visible price reads as sold.
func TestClassifyRulePriority(t *testing.T) {
	rules := []struct {
		name    string
		markers []string
		want    models.Status
	}{
		{"removed", []string{browser.MarkerNotFound}, models.StatusRemoved},
		{"sold", []string{browser.MarkerSoldBadge}, models.StatusSold},
		{"active core", []string{browser.MarkerTitle, browser.MarkerPrice}, models.StatusActive},
		{"active substantial", []string{browser.MarkerMain}, models.StatusActive},
	}

	for i, hi := range rules {
		for _, lo := range rules[i+1:] {
			combined := append(append([]string{}, hi.markers...), lo.markers...)
			facts := withMarkers(combined...)
			if got := Classify(facts); got != hi.want {
				t.Errorf("%s + %s: got %q, want %q (higher rule must win)",
					hi.name, lo.name, got, hi.want)
			}
		}
	}
}
