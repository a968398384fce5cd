package browser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"carwatch/identity"
)

const pageCreateRetries = 3

var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-crashpad-for-testing",
	"--disable-crash-reporter",
	"--disable-breakpad",
	"--disable-background-networking",
	"--disable-sync",
	"--mute-audio",
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-extensions",
}

// Manager owns the Playwright driver and hands out browser sessions. Each
// session is one Chromium process with one identity profile applied at launch
// time, so the proxy, the transport-level user-agent and the script-visible
// navigator properties all agree.
type Manager struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	pool     *identity.Pool
	headless bool
}

// Options control how a session is acquired.
type Options struct {
	Headless bool
	// Isolated gives every page its own incognito storage state. Status
	// checks run non-isolated, crawls isolated.
	Isolated bool
}

// Session is one browser process plus the pages opened in it. Released as a
// unit; pages close before the context, the context before the process.
type Session struct {
	mu      sync.Mutex
	browser playwright.Browser
	context playwright.BrowserContext
	profile identity.Profile
	opts    Options
	pages   []playwright.Page
}

func NewManager(pool *identity.Pool) *Manager {
	return &Manager{pool: pool}
}

func (m *Manager) start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pw != nil {
		return nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	m.pw = pw
	return nil
}

// Stop tears down the Playwright driver. Sessions must be released first.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pw != nil {
		m.pw.Stop()
		m.pw = nil
	}
}

// Acquire launches a browser process with the next identity profile. Launch
// failures are fatal to the caller, there is nothing to retry against a
// missing browser binary.
func (m *Manager) Acquire(ctx context.Context, opts Options) (*Session, error) {
	if err := m.start(); err != nil {
		return nil, err
	}

	profile := m.pool.Next()
	log.Printf("[browser] launching session (headless=%v isolated=%v ua=%.40s...)",
		opts.Headless, opts.Isolated, profile.UserAgent)

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     append([]string{}, launchArgs...),
	}
	if profile.ProxyServer != "" {
		launch.Proxy = &playwright.Proxy{
			Server: profile.ProxyServer,
		}
		if profile.ProxyUsername != "" {
			launch.Proxy.Username = playwright.String(profile.ProxyUsername)
			launch.Proxy.Password = playwright.String(profile.ProxyPassword)
		}
		log.Printf("[browser] using proxy: %s", profile.ProxyServer)
	}

	b, err := m.pw.Chromium.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	s := &Session{browser: b, profile: profile, opts: opts}

	if opts.Isolated {
		bctx, err := newContextWithRetry(ctx, b, profile)
		if err != nil {
			b.Close()
			return nil, err
		}
		s.context = bctx
	}

	return s, nil
}

func newContextWithRetry(ctx context.Context, b playwright.Browser, profile identity.Profile) (playwright.BrowserContext, error) {
	var lastErr error
	for attempt := 1; attempt <= pageCreateRetries; attempt++ {
		bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
			UserAgent: playwright.String(profile.UserAgent),
			Viewport:  &playwright.Size{Width: 1280, Height: 800},
			ExtraHttpHeaders: map[string]string{
				"accept-language": "en-US,en;q=0.9,ru-RU;q=0.8,ru;q=0.7",
			},
		})
		if err == nil {
			if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript(profile.UserAgent))}); err != nil {
				log.Printf("[browser] init script failed (continuing): %v", err)
			}
			return bctx, nil
		}
		lastErr = err
		if !isTransientCreateError(err) || attempt == pageCreateRetries {
			break
		}
		wait := time.Duration(attempt) * 2 * time.Second
		log.Printf("[browser] context creation failed (attempt %d/%d), retrying in %s: %v",
			attempt, pageCreateRetries, wait, err)
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("create browser context: %w", lastErr)
}

// NewPage opens a page in the session, retrying the transient "browser not
// yet ready" class of failures with increasing backoff.
func (s *Session) NewPage(ctx context.Context) (playwright.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= pageCreateRetries; attempt++ {
		page, err := s.newPage()
		if err == nil {
			s.mu.Lock()
			s.pages = append(s.pages, page)
			s.mu.Unlock()
			return page, nil
		}
		lastErr = err
		if !isTransientCreateError(err) || attempt == pageCreateRetries {
			break
		}
		wait := time.Duration(attempt) * 2 * time.Second
		log.Printf("[browser] page creation failed (attempt %d/%d), retrying in %s: %v",
			attempt, pageCreateRetries, wait, err)
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("create page: %w", lastErr)
}

func (s *Session) newPage() (playwright.Page, error) {
	if s.context != nil {
		return s.context.NewPage()
	}

	page, err := s.browser.NewPage()
	if err != nil {
		return nil, err
	}
	// Non-isolated pages still carry the session identity.
	if err := page.SetExtraHTTPHeaders(map[string]string{
		"user-agent":      s.profile.UserAgent,
		"accept-language": "en-US,en;q=0.9,ru-RU;q=0.8,ru;q=0.7",
	}); err != nil {
		log.Printf("[browser] set headers failed (continuing): %v", err)
	}
	if err := page.AddInitScript(playwright.Script{Content: playwright.String(stealthScript(s.profile.UserAgent))}); err != nil {
		log.Printf("[browser] init script failed (continuing): %v", err)
	}
	return page, nil
}

// Release closes every page, then the context, then the browser process.
// Individual close failures are logged and never block the rest of the
// teardown.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.mu.Lock()
	pages := s.pages
	s.pages = nil
	s.mu.Unlock()

	for _, p := range pages {
		if p.IsClosed() {
			continue
		}
		if err := p.Close(); err != nil {
			log.Printf("[browser] page close error (continuing): %v", err)
		}
	}
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			log.Printf("[browser] context close error (continuing): %v", err)
		}
	}
	if err := s.browser.Close(); err != nil {
		log.Printf("[browser] browser close error (continuing): %v", err)
	}
}

// Profile returns the identity this session was launched with.
func (s *Session) Profile() identity.Profile {
	return s.profile
}

func isTransientCreateError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"Target.createTarget",
		"Target closed",
		"Protocol error",
		"browser has been closed",
		"Session closed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func stealthScript(userAgent string) string {
	return fmt.Sprintf(`(() => {
  Object.defineProperty(navigator, 'userAgent', { get: () => %q });
  Object.defineProperty(navigator, 'webdriver', { get: () => false });
  window.chrome = { runtime: {}, loadTimes: function () {}, csi: function () {}, app: {} };
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en', 'ru-RU', 'ru'] });
})();`, userAgent)
}
