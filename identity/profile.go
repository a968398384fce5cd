package identity

import (
	"math/rand"
	"net/url"
	"sync"
)

// Profile is one rotation entry: a user-agent plus an optional proxy. A
// session created with a profile must present the same identity at transport
// level and to page scripts, a mismatch between the two is itself a
// detection signal.
type Profile struct {
	UserAgent     string
	ProxyServer   string // scheme://host:port, empty when direct
	ProxyUsername string
	ProxyPassword string
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// Pool hands out identity profiles round-robin. Read-only after construction,
// safe for concurrent Next calls.
type Pool struct {
	mu       sync.Mutex
	profiles []Profile
	next     int
}

// NewPool builds the rotation pool from proxy URLs (user:pass@host form
// supported) crossed with the user-agent list. UA list empty means the
// built-in Chrome/Firefox/Safari set. No proxies means direct profiles.
func NewPool(proxyURLs, userAgents []string) *Pool {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}

	var proxies []Profile
	for _, raw := range proxyURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		p := Profile{ProxyServer: u.Scheme + "://" + u.Host}
		if u.User != nil {
			p.ProxyUsername = u.User.Username()
			p.ProxyPassword, _ = u.User.Password()
		}
		proxies = append(proxies, p)
	}

	var profiles []Profile
	if len(proxies) == 0 {
		for _, ua := range userAgents {
			profiles = append(profiles, Profile{UserAgent: ua})
		}
	} else {
		for _, px := range proxies {
			for _, ua := range userAgents {
				p := px
				p.UserAgent = ua
				profiles = append(profiles, p)
			}
		}
	}

	return &Pool{profiles: profiles, next: rand.Intn(len(profiles))}
}

func (p *Pool) Size() int {
	return len(p.profiles)
}

// Next returns the next profile in rotation.
func (p *Pool) Next() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof := p.profiles[p.next]
	p.next = (p.next + 1) % len(p.profiles)
	return prof
}
