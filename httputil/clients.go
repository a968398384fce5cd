package httputil

import (
	"net/http"
	"net/url"
	"time"
)

type Clients struct {
	Scraping *http.Client // proxied, for target sites
	API      *http.Client // direct, for solver/Telegram
}

// NewClients builds the two HTTP clients the daemon uses. The scraping client
// goes through the first configured proxy and never follows redirects, a
// delist redirect must stay observable.
func NewClients(proxyURL string) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}

	scraping := &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
