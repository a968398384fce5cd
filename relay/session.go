package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// DefaultTTL is how long a solve session stays claimable. Past it the page
// has usually been released anyway.
const DefaultTTL = 10 * time.Minute

var (
	ErrSessionNotFound = errors.New("relay: session not found or expired")
	ErrPageGone        = errors.New("relay: page is closed")
)

// Tap is one click in page-viewport coordinates.
type Tap struct {
	X float64
	Y float64
}

// Session pairs a challenge page with the human solving it. The store does
// not own the page; every use re-checks liveness because the crawl that
// opened it can close it at any moment.
type Session struct {
	ID        string
	CreatedAt time.Time
	ViewportW int
	ViewportH int

	page playwright.Page

	mu   sync.Mutex
	taps []Tap
}

// Store keeps active solve sessions, at most one per page. Expiry is lazy:
// expired entries are dropped on lookup and on the sweep that runs at every
// create.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byPage   map[playwright.Page]string
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*Session),
		byPage:   make(map[playwright.Page]string),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create registers a solve session for the page. A second create for the
// same page returns the existing live session instead of forking a new one.
func (s *Store) Create(page playwright.Page) (*Session, error) {
	if page != nil && page.IsClosed() {
		return nil, ErrPageGone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if id, ok := s.byPage[page]; ok {
		if existing, live := s.sessions[id]; live {
			return existing, nil
		}
	}

	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
		ViewportW: 1280,
		ViewportH: 800,
		page:      page,
	}
	if page != nil {
		if vp := page.ViewportSize(); vp != nil && vp.Width > 0 && vp.Height > 0 {
			sess.ViewportW = vp.Width
			sess.ViewportH = vp.Height
		}
	}
	s.sessions[sess.ID] = sess
	s.byPage[page] = sess.ID
	return sess, nil
}

// Get returns a live session by id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.now().Sub(sess.CreatedAt) > s.ttl {
		s.removeLocked(sess)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Close drops a session. Safe on ids that already expired.
func (s *Store) Close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		s.removeLocked(sess)
	}
}

func (s *Store) removeLocked(sess *Session) {
	delete(s.sessions, sess.ID)
	if cur, ok := s.byPage[sess.page]; ok && cur == sess.ID {
		delete(s.byPage, sess.page)
	}
}

func (s *Store) sweepLocked() {
	cutoff := s.now().Add(-s.ttl)
	for _, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			s.removeLocked(sess)
		}
	}
}

// AddTap queues a click, rescaling from the solver's display size to the
// page viewport. Non-positive display dimensions mean the client already
// sent viewport coordinates and the tap passes through unscaled.
func (s *Store) AddTap(id string, x, y float64, displayW, displayH int) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}

	if displayW > 0 && displayH > 0 {
		x = x * float64(sess.ViewportW) / float64(displayW)
		y = y * float64(sess.ViewportH) / float64(displayH)
	}

	sess.mu.Lock()
	sess.taps = append(sess.taps, Tap{X: x, Y: y})
	sess.mu.Unlock()
	return nil
}

// DrainTaps removes and returns every queued tap. Each tap is delivered at
// most once no matter how many pollers race.
func (s *Store) DrainTaps(id string) ([]Tap, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	taps := sess.taps
	sess.taps = nil
	sess.mu.Unlock()
	return taps, nil
}

// Screenshot captures the current page state for the solver, along with the
// viewport the coordinates will be rescaled against.
func (s *Store) Screenshot(id string) (png []byte, viewportW, viewportH int, err error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, 0, 0, err
	}
	if sess.page == nil || sess.page.IsClosed() {
		s.Close(id)
		return nil, 0, 0, ErrPageGone
	}

	png, err = sess.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("screenshot: %w", err)
	}
	return png, sess.ViewportW, sess.ViewportH, nil
}

// Len reports how many sessions are currently held, expired ones included
// until the next sweep.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
