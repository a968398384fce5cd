package captcha

import (
	"regexp"
	"strings"
)

// Kind identifies the challenge family on a page. The family decides which
// resolution path applies: token-based kinds can go to the automated solver,
// everything else goes straight to the manual relay.
type Kind string

const (
	KindNone               Kind = ""
	KindRecaptchaCheckbox  Kind = "recaptcha_checkbox"
	KindRecaptchaInvisible Kind = "recaptcha_invisible"
	KindHcaptcha           Kind = "hcaptcha"
	KindImage              Kind = "image"
	KindRedirect           Kind = "redirect"
)

// Automatable reports whether the automated solver handles this kind.
func (k Kind) Automatable() bool {
	switch k {
	case KindRecaptchaCheckbox, KindRecaptchaInvisible, KindHcaptcha, KindImage:
		return true
	}
	return false
}

var sitekeyRe = regexp.MustCompile(`data-sitekey=["']([\w-]+)["']`)
var sitekeyParamRe = regexp.MustCompile(`[?&](?:k|sitekey)=([\w-]+)`)
var captchaImgRe = regexp.MustCompile(`<img[^>]+src=["'][^"']*captcha`)

// Classify inspects served HTML and the page URL and names the challenge.
// Order matters: explicit widgets beat the generic image heuristic, and the
// redirect kind is only claimed when the URL itself is a captcha gateway
// with no recognizable widget in the body.
func Classify(html, pageURL string) Kind {
	low := strings.ToLower(html)

	switch {
	case strings.Contains(low, "data-size=\"invisible\"") && strings.Contains(low, "g-recaptcha"),
		strings.Contains(low, "grecaptcha.execute"):
		return KindRecaptchaInvisible
	case strings.Contains(low, "g-recaptcha") || strings.Contains(low, "google.com/recaptcha"):
		return KindRecaptchaCheckbox
	case strings.Contains(low, "h-captcha") || strings.Contains(low, "hcaptcha.com"):
		return KindHcaptcha
	case strings.Contains(low, "captcha__image") || captchaImgRe.MatchString(low):
		return KindImage
	}

	lowURL := strings.ToLower(pageURL)
	for _, frag := range []string{"showcaptcha", "/checkcaptcha", "geo.captcha-delivery.com", "validate.perfdrive.com"} {
		if strings.Contains(lowURL, frag) {
			return KindRedirect
		}
	}
	return KindNone
}

// SiteKey pulls the widget site key out of the HTML, checking the
// data-sitekey attribute first and iframe query parameters second.
func SiteKey(html string) string {
	if m := sitekeyRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := sitekeyParamRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}
