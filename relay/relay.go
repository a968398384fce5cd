package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/playwright-community/playwright-go"

	"carwatch/browser"
)

// Notifier delivers a solve link (plus the current page screenshot) to a
// human.
type Notifier interface {
	IsEnabled() bool
	Deliver(ctx context.Context, solveURL string, screenshot []byte) error
}

// Archiver keeps a copy of the challenge screenshot for later review.
type Archiver interface {
	Store(ctx context.Context, sessionID string, png []byte) (string, error)
}

// Relay runs the manual captcha path: snapshot the page, hand a solve link
// to a human, replay their taps into the live page, and watch detection
// until the challenge clears.
type Relay struct {
	Store    *Store
	Notify   Notifier
	Archive  Archiver
	Detector *browser.Detector
	AppURL   string

	// PollEvery is the tap-replay and re-detection cadence.
	PollEvery time.Duration
}

func New(store *Store, notify Notifier, archive Archiver, det *browser.Detector, appURL string) *Relay {
	return &Relay{
		Store:     store,
		Notify:    notify,
		Archive:   archive,
		Detector:  det,
		AppURL:    appURL,
		PollEvery: 2 * time.Second,
	}
}

// SolveURL is the page a human opens to work the challenge.
func (r *Relay) SolveURL(sessionID string) string {
	return fmt.Sprintf("%s/captcha-solve/%s", r.AppURL, sessionID)
}

// Begin opens a solve session for the page and notifies the operator.
// Notification failure is fatal here: a session nobody knows about will
// just sit out its TTL.
func (r *Relay) Begin(ctx context.Context, page playwright.Page) (string, error) {
	if r.Notify == nil || !r.Notify.IsEnabled() {
		return "", fmt.Errorf("relay: no notification channel configured")
	}

	sess, err := r.Store.Create(page)
	if err != nil {
		return "", err
	}

	png, _, _, err := r.Store.Screenshot(sess.ID)
	if err != nil {
		r.Store.Close(sess.ID)
		return "", err
	}
	if r.Archive != nil {
		if loc, err := r.Archive.Store(ctx, sess.ID, png); err != nil {
			log.Printf("[relay] screenshot archive failed (continuing): %v", err)
		} else {
			log.Printf("[relay] screenshot archived: %s", loc)
		}
	}

	if err := r.Notify.Deliver(ctx, r.SolveURL(sess.ID), png); err != nil {
		r.Store.Close(sess.ID)
		return "", fmt.Errorf("relay: deliver solve link: %w", err)
	}
	log.Printf("[relay] solve session %s opened for %s", sess.ID, page.URL())
	return sess.ID, nil
}

// Wait replays queued taps into the page every PollEvery and re-runs
// detection, until the challenge clears, the window expires, or the context
// is cancelled. The session is always closed on the way out.
func (r *Relay) Wait(ctx context.Context, page playwright.Page, sessionID string, timeout time.Duration) bool {
	defer r.Store.Close(sessionID)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(r.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			log.Printf("[relay] solve session %s timed out after %s", sessionID, timeout)
			return false
		}
		if page.IsClosed() {
			log.Printf("[relay] page closed under solve session %s", sessionID)
			return false
		}

		taps, err := r.Store.DrainTaps(sessionID)
		if err != nil {
			// session expired out from under us
			return false
		}
		for _, tap := range taps {
			if err := page.Mouse().Click(tap.X, tap.Y); err != nil {
				log.Printf("[relay] tap replay failed (continuing): %v", err)
			}
		}
		if len(taps) > 0 {
			// give the widget a beat to react before re-detecting
			page.WaitForTimeout(1000)
		}

		if r.Cleared(page) {
			log.Printf("[relay] solve session %s cleared", sessionID)
			return true
		}
	}
}

// Cleared re-runs detection on the page.
func (r *Relay) Cleared(page playwright.Page) bool {
	facts, err := r.Detector.Inspect(page)
	if err != nil {
		return false
	}
	return !r.Detector.Decide(facts).Blocked
}
