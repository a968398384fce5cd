package status

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"carwatch/browser"
	"carwatch/models"
)

// Checker determines the live status of a single listing URL. It tries a
// cheap HEAD probe first and only spins up a browser page when the probe is
// inconclusive, because most removed listings answer with a plain 404 long
// before any JavaScript runs.
type Checker struct {
	Manager     *browser.Manager
	Nav         *browser.Controller
	Det         *browser.Detector
	Client      *http.Client // proxied, redirects not followed
	MaxAttempts int
}

func NewChecker(mgr *browser.Manager, nav *browser.Controller, det *browser.Detector, client *http.Client, maxAttempts int) *Checker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Checker{Manager: mgr, Nav: nav, Det: det, Client: client, MaxAttempts: maxAttempts}
}

// Classify resolves the status of one listing URL. Infrastructure failures
// return unknown with the error; an unreachable page is never evidence of
// removal.
func (c *Checker) Classify(ctx context.Context, url string) (models.Status, error) {
	if st, decided := c.headProbe(ctx, url); decided {
		return st, nil
	}
	return c.browserClassify(ctx, url)
}

// headProbe answers only when the response is unambiguous without a render.
func (c *Checker) headProbe(ctx context.Context, url string) (models.Status, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return models.StatusUnknown, false
	}
	res, err := c.Client.Do(req)
	if err != nil {
		return models.StatusUnknown, false
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		log.Printf("[status] %s answered %d, marking removed without render", url, res.StatusCode)
		return models.StatusRemoved, true
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		// Delisted pages commonly bounce to a category or search page. A
		// redirect that keeps the path (scheme or www churn) proves nothing.
		if loc, err := res.Location(); err == nil && loc.Path != req.URL.Path {
			log.Printf("[status] %s redirects to %s, marking removed without render", url, loc)
			return models.StatusRemoved, true
		}
	}
	return models.StatusUnknown, false
}

func (c *Checker) browserClassify(ctx context.Context, url string) (models.Status, error) {
	session, err := c.Manager.Acquire(ctx, browser.Options{Headless: true})
	if err != nil {
		return models.StatusUnknown, fmt.Errorf("status check %s: %w", url, err)
	}
	defer c.Manager.Release(session)

	page, err := session.NewPage(ctx)
	if err != nil {
		return models.StatusUnknown, fmt.Errorf("status check %s: %w", url, err)
	}

	if !c.Nav.Navigate(ctx, page, url, c.MaxAttempts) {
		log.Printf("[status] could not get past blocks on %s, leaving unknown", url)
		return models.StatusUnknown, nil
	}

	facts, err := c.Det.Inspect(page)
	if err != nil {
		return models.StatusUnknown, fmt.Errorf("status check %s: %w", url, err)
	}
	return Classify(facts), nil
}
