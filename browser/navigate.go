package browser

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Resolver clears a captcha on the given page. Implementations report
// whether the page ended up usable; the controller re-checks afterwards
// regardless.
type Resolver interface {
	Resolve(ctx context.Context, page playwright.Page) bool
}

// Controller drives a page to a URL through blocks, captchas and transport
// flakiness. It owns the retry policy; callers only learn whether the page
// came up with real content.
type Controller struct {
	Detector *Detector
	Resolver Resolver

	Timeout    time.Duration // per-attempt navigation timeout
	SettleMin  time.Duration // post-load settle window
	SettleMax  time.Duration
	RetryDelay time.Duration // scaled by attempt number
	BlockDelay time.Duration // scaled by attempt number, hard blocks only

	// test seams
	gotoFn    func(page playwright.Page, url string, timeout time.Duration) error
	inspectFn func(page playwright.Page) (*PageFacts, error)
}

func NewController(det *Detector, res Resolver, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Controller{
		Detector:   det,
		Resolver:   res,
		Timeout:    timeout,
		SettleMin:  2 * time.Second,
		SettleMax:  4 * time.Second,
		RetryDelay: 5 * time.Second,
		BlockDelay: 10 * time.Second,
	}
}

// Navigate attempts to land on url with usable content, up to maxAttempts
// times. Transport failures retry with a linear backoff, hard blocks back
// off longer, captchas go to the resolver before the attempt is written off.
// Returns false once the attempt budget is spent or the context is done.
func (c *Controller) Navigate(ctx context.Context, page playwright.Page, url string, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt) * c.RetryDelay
			log.Printf("[nav] attempt %d/%d for %s in %s", attempt, maxAttempts, url, wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return false
			}
		}

		if err := c.goTo(page, url); err != nil {
			log.Printf("[nav] navigation error (attempt %d/%d): %v", attempt, maxAttempts, err)
			continue
		}
		if err := c.settle(ctx); err != nil {
			return false
		}

		facts, err := c.inspect(page)
		if err != nil {
			log.Printf("[nav] inspection error (attempt %d/%d): %v", attempt, maxAttempts, err)
			continue
		}
		verdict := c.Detector.Decide(facts)
		if !verdict.Blocked {
			return true
		}

		if verdict.Captcha && c.Resolver != nil {
			log.Printf("[nav] captcha on %s, handing off to resolver", url)
			if c.Resolver.Resolve(ctx, page) {
				// Resolution claims success; trust the page only
				// after a fresh observation.
				facts, err = c.inspect(page)
				if err == nil && !c.Detector.Decide(facts).Blocked {
					log.Printf("[nav] captcha cleared for %s", url)
					return true
				}
				log.Printf("[nav] captcha reported solved but page still blocked: %s", url)
			} else {
				log.Printf("[nav] captcha unresolved for %s", url)
			}
			continue
		}

		wait := time.Duration(attempt) * c.BlockDelay
		log.Printf("[nav] blocked on %s (attempt %d/%d), backing off %s", url, attempt, maxAttempts, wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return false
		}
	}
	return false
}

func (c *Controller) goTo(page playwright.Page, url string) error {
	if c.gotoFn != nil {
		return c.gotoFn(page, url, c.Timeout)
	}
	_, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(c.Timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (c *Controller) settle(ctx context.Context) error {
	if c.SettleMax <= c.SettleMin {
		return sleepCtx(ctx, c.SettleMin)
	}
	jitter := time.Duration(rand.Int63n(int64(c.SettleMax - c.SettleMin)))
	return sleepCtx(ctx, c.SettleMin+jitter)
}

func (c *Controller) inspect(page playwright.Page) (*PageFacts, error) {
	if c.inspectFn != nil {
		return c.inspectFn(page)
	}
	return c.Detector.Inspect(page)
}
