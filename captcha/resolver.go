package captcha

import (
	"context"
	"log"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ManualRelay hands a challenge to a human: Begin snapshots the page and
// delivers a solve link, Wait relays taps back into the page until detection
// clears or the window closes.
type ManualRelay interface {
	Begin(ctx context.Context, page playwright.Page) (sessionID string, err error)
	Wait(ctx context.Context, page playwright.Page, sessionID string, timeout time.Duration) bool
}

// Verifier re-checks a page after a resolution attempt. The navigation
// detector satisfies this.
type Verifier interface {
	Cleared(page playwright.Page) bool
}

// Resolver clears captchas, trying the automated solver first and falling
// back to a human through the relay. Either path alone also works: with no
// service key everything goes manual, with no relay the automated verdict
// is final.
type Resolver struct {
	Solver        *Solver
	Manual        ManualRelay
	Verify        Verifier
	ManualTimeout time.Duration
}

func NewResolver(solver *Solver, manual ManualRelay, verify Verifier) *Resolver {
	return &Resolver{
		Solver:        solver,
		Manual:        manual,
		Verify:        verify,
		ManualTimeout: 10 * time.Minute,
	}
}

// Resolve reports whether the page ended up past the challenge.
func (r *Resolver) Resolve(ctx context.Context, page playwright.Page) bool {
	if page == nil || page.IsClosed() {
		return false
	}

	html, err := page.Content()
	if err != nil {
		log.Printf("[captcha] cannot read page content: %v", err)
		return false
	}
	kind := Classify(html, page.URL())
	log.Printf("[captcha] challenge on %s classified as %q", page.URL(), kind)

	if r.Solver.Enabled() && kind.Automatable() {
		if r.solveAutomated(ctx, page, kind, html) {
			return true
		}
		log.Printf("[captcha] automated path failed for %q, falling back to manual relay", kind)
	}

	return r.solveManual(ctx, page)
}

func (r *Resolver) solveAutomated(ctx context.Context, page playwright.Page, kind Kind, html string) bool {
	var err error
	switch kind {
	case KindRecaptchaCheckbox, KindRecaptchaInvisible:
		err = r.solveRecaptcha(ctx, page, kind, html)
	case KindHcaptcha:
		err = r.solveHcaptcha(ctx, page, html)
	case KindImage:
		err = r.solveImage(ctx, page)
	default:
		return false
	}
	if err != nil {
		log.Printf("[captcha] automated solve failed: %v", err)
		return false
	}
	return r.cleared(page)
}

func (r *Resolver) solveRecaptcha(ctx context.Context, page playwright.Page, kind Kind, html string) error {
	siteKey := SiteKey(html)
	if siteKey == "" {
		return ErrUnsolved
	}
	token, err := r.Solver.SolveRecaptcha(ctx, siteKey, page.URL(), kind == KindRecaptchaInvisible)
	if err != nil {
		return err
	}
	return injectToken(page, "g-recaptcha-response", token)
}

func (r *Resolver) solveHcaptcha(ctx context.Context, page playwright.Page, html string) error {
	siteKey := SiteKey(html)
	if siteKey == "" {
		return ErrUnsolved
	}
	token, err := r.Solver.SolveHcaptcha(ctx, siteKey, page.URL())
	if err != nil {
		return err
	}
	return injectToken(page, "h-captcha-response", token)
}

func (r *Resolver) solveImage(ctx context.Context, page playwright.Page) error {
	img := page.Locator("img[src*='captcha'], .captcha__image").First()
	png, err := img.Screenshot()
	if err != nil {
		return err
	}
	answer, err := r.Solver.SolveImage(ctx, png)
	if err != nil {
		return err
	}

	input := page.Locator("input[name*='captcha'], input[name*='rep'], #captcha-input").First()
	if err := input.Fill(answer); err != nil {
		return err
	}
	return input.Press("Enter")
}

// injectToken writes the solver token into the hidden response fields and
// fires the widget callback when the page registered one.
func injectToken(page playwright.Page, field, token string) error {
	script := `([field, token]) => {
  document.querySelectorAll('[name="' + field + '"]').forEach((el) => {
    el.value = token;
    el.innerHTML = token;
  });
  const cfg = window.___grecaptcha_cfg;
  if (cfg && cfg.clients) {
    for (const client of Object.values(cfg.clients)) {
      const walk = (obj, depth) => {
        if (!obj || depth > 3) return;
        if (typeof obj.callback === 'function') { obj.callback(token); return; }
        for (const v of Object.values(obj)) if (typeof v === 'object') walk(v, depth + 1);
      };
      walk(client, 0);
    }
  }
  const form = document.querySelector('form[action*="captcha"], form[action*="checkcaptcha"]');
  if (form) form.submit();
}`
	_, err := page.Evaluate(script, []interface{}{field, token})
	if err != nil {
		return err
	}
	// widget callbacks navigate asynchronously
	page.WaitForTimeout(3000)
	return nil
}

func (r *Resolver) solveManual(ctx context.Context, page playwright.Page) bool {
	if r.Manual == nil {
		return false
	}
	sessionID, err := r.Manual.Begin(ctx, page)
	if err != nil {
		log.Printf("[captcha] manual relay unavailable: %v", err)
		return false
	}
	return r.Manual.Wait(ctx, page, sessionID, r.ManualTimeout)
}

func (r *Resolver) cleared(page playwright.Page) bool {
	if r.Verify == nil {
		return true
	}
	return r.Verify.Cleared(page)
}
