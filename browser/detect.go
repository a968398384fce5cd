package browser

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
)

// Marker names shared between detection and status classification. Every
// marker maps to a set of CSS selectors; a marker is present when any of its
// selectors matches at least one element.
const (
	MarkerTitle       = "title"
	MarkerPrice       = "price"
	MarkerDescription = "description"
	MarkerGallery     = "gallery"
	MarkerMain        = "main"
	MarkerNotFound    = "not_found"
	MarkerSoldBadge   = "sold_badge"
	MarkerCaptchaBox  = "captcha_box"
	MarkerCaptchaImg  = "captcha_img"
	MarkerBlockWall   = "block_wall"
)

// MarkerSet maps marker names to the selectors that prove them.
type MarkerSet map[string][]string

// DefaultMarkers covers the page structures the built-in sources use.
// Source-specific selector overlays merge on top of these.
func DefaultMarkers() MarkerSet {
	return MarkerSet{
		MarkerTitle:       {"h1", "[data-marker='item-view/title-info']", "[itemprop='name']"},
		MarkerPrice:       {"[itemprop='price']", "[data-marker='item-view/item-price']", ".price-value", ".offer-price"},
		MarkerDescription: {"[data-marker='item-view/item-description']", "[itemprop='description']", ".item-description"},
		MarkerGallery:     {".gallery-img-frame", "[data-marker='image-frame/image-wrapper']", ".image-gallery"},
		MarkerMain:        {"main", "#app", "[data-marker='item-view/content']"},
		MarkerNotFound:    {".item-view-notfound", ".page-title-count-notfound", "[data-marker='404']"},
		MarkerSoldBadge:   {".item-closed-warning", "[data-marker='item-view/closed-warning']", ".closed-warning"},
		MarkerCaptchaBox:  {"iframe[src*='captcha']", ".g-recaptcha", "#h-captcha", "[data-sitekey]", "#captcha"},
		MarkerCaptchaImg:  {"img[src*='captcha']", ".captcha__image"},
		MarkerBlockWall:   {"#main-iframe", "iframe[src*='_Incapsula_Resource']", ".firewall-block"},
	}
}

// PageFacts is the structured observation of a rendered page: what the page
// claims to be plus which markers matched. All downstream decisions (retry,
// captcha hand-off, status classification) run on facts, never on a live
// page.
type PageFacts struct {
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	BodyLen  int             `json:"bodyLen"`
	BodyText string          `json:"bodyText"`
	Markers  map[string]bool `json:"markers"`
}

// Has reports whether the named marker matched.
func (f *PageFacts) Has(name string) bool {
	return f != nil && f.Markers[name]
}

// ContainsText reports whether the lowercased body sample contains s.
func (f *PageFacts) ContainsText(s string) bool {
	return f != nil && strings.Contains(f.BodyText, strings.ToLower(s))
}

// Verdict is the block/captcha decision derived from a page observation.
type Verdict struct {
	Blocked bool
	Captcha bool
}

var captchaURLFragments = []string{
	"showcaptcha",
	"/checkcaptcha",
	"geo.captcha-delivery.com",
	"validate.perfdrive.com",
	"_incapsula_resource",
}

var captchaBodyPhrases = []string{
	"подтвердите, что вы не робот",
	"confirm you are not a robot",
	"are you a robot",
	"доступ ограничен",
	"введите символы с картинки",
	"checking your browser",
}

var blockBodyPhrases = []string{
	"access denied",
	"request unsuccessful",
	"доступ с вашего ip-адреса временно ограничен",
	"too many requests",
	"403 forbidden",
}

// Detector turns a live page into PageFacts and facts into a verdict. The
// selector set is the only per-source knob.
type Detector struct {
	Markers MarkerSet
}

func NewDetector(markers MarkerSet) *Detector {
	if markers == nil {
		markers = DefaultMarkers()
	}
	return &Detector{Markers: markers}
}

// Inspect evaluates a single script in the page that resolves every marker
// selector and samples the body text, returning everything as one JSON
// payload. One round-trip instead of a selector-by-selector probe. Falls
// back to fetching the HTML and matching selectors offline when script
// evaluation is unavailable.
func (d *Detector) Inspect(page playwright.Page) (*PageFacts, error) {
	if page == nil || page.IsClosed() {
		return nil, fmt.Errorf("inspect: page is closed")
	}

	script, err := d.inspectScript()
	if err != nil {
		return nil, err
	}
	raw, err := page.Evaluate(script)
	if err == nil {
		if s, ok := raw.(string); ok {
			var facts PageFacts
			if jsonErr := json.Unmarshal([]byte(s), &facts); jsonErr == nil {
				facts.BodyText = strings.ToLower(facts.BodyText)
				return &facts, nil
			}
		}
	}

	log.Printf("[browser] page script inspection failed, falling back to content parse: %v", err)
	return d.inspectContent(page)
}

func (d *Detector) inspectScript() (string, error) {
	sel, err := json.Marshal(d.Markers)
	if err != nil {
		return "", fmt.Errorf("marshal marker selectors: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const groups = %s;
  const markers = {};
  for (const [name, selectors] of Object.entries(groups)) {
    markers[name] = selectors.some((s) => {
      try { return document.querySelector(s) !== null; } catch (e) { return false; }
    });
  }
  const body = document.body ? document.body.innerText : '';
  return JSON.stringify({
    url: location.href,
    title: document.title || '',
    bodyLen: body.length,
    bodyText: body.slice(0, 4000),
    markers,
  });
})()`, string(sel)), nil
}

// inspectContent is the degraded path: parse the served HTML instead of the
// live DOM. Selector semantics match as long as the marker selectors stay
// plain CSS.
func (d *Detector) inspectContent(page playwright.Page) (*PageFacts, error) {
	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page content: %w", err)
	}

	facts := &PageFacts{
		URL:     page.URL(),
		Title:   doc.Find("title").First().Text(),
		Markers: make(map[string]bool, len(d.Markers)),
	}
	for name, selectors := range d.Markers {
		for _, s := range selectors {
			if doc.Find(s).Length() > 0 {
				facts.Markers[name] = true
				break
			}
		}
	}
	body := strings.ToLower(doc.Find("body").Text())
	if len(body) > 4000 {
		facts.BodyText = body[:4000]
	} else {
		facts.BodyText = body
	}
	facts.BodyLen = len(body)
	return facts, nil
}

// Decide classifies the observation. Confirmed content markers always win:
// a page that shows a listing title and a price is not blocked no matter
// what phrases its footer contains.
func (d *Detector) Decide(facts *PageFacts) Verdict {
	if facts == nil {
		return Verdict{Blocked: true}
	}

	captcha := facts.Has(MarkerCaptchaBox) || facts.Has(MarkerCaptchaImg)
	if !captcha {
		lowURL := strings.ToLower(facts.URL)
		for _, frag := range captchaURLFragments {
			if strings.Contains(lowURL, frag) {
				captcha = true
				break
			}
		}
	}
	if !captcha {
		for _, phrase := range captchaBodyPhrases {
			if facts.ContainsText(phrase) {
				captcha = true
				break
			}
		}
	}
	if captcha {
		return Verdict{Blocked: true, Captcha: true}
	}

	if facts.Has(MarkerTitle) && (facts.Has(MarkerPrice) || facts.Has(MarkerMain)) {
		return Verdict{}
	}
	if facts.Has(MarkerNotFound) || facts.Has(MarkerSoldBadge) {
		// Terminal listing states are real content, not a block.
		return Verdict{}
	}

	if facts.Has(MarkerBlockWall) {
		return Verdict{Blocked: true}
	}
	for _, phrase := range blockBodyPhrases {
		if facts.ContainsText(phrase) {
			return Verdict{Blocked: true}
		}
	}
	// No negative signal is not enough. The page must positively show a
	// recognizable container or a substantial rendered body, otherwise a
	// half-loaded challenge interstitial would pass.
	if facts.Has(MarkerMain) || facts.BodyLen >= 2000 {
		return Verdict{}
	}
	return Verdict{Blocked: true}
}
