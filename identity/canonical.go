package identity

import (
	"net/url"
	"strings"
)

// Tracking parameters carried by marketplace links. The `context` parameter in
// particular encodes the traffic source and is itself a bot-detection signal.
var trackingParams = []string{
	"context",
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
	"ref",
	"from",
	"src",
	"r",
	"af",
}

// CanonicalURL normalizes a listing URL into its identity form: lowercased
// scheme and host, tracking parameters and fragment stripped. A URL that does
// not parse is returned lowercase-trimmed so equality stays well defined.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// SameListing reports whether two raw URLs identify the same listing.
func SameListing(a, b string) bool {
	return CanonicalURL(a) == CanonicalURL(b)
}
