package domain

import (
	"net/url"
	"strings"
)

// Query parameters that sites append for tracking. They never identify a
// listing, so they are stripped before deduplication.
var trackingParams = map[string]bool{
	"ref":         true,
	"referer":     true,
	"fbclid":      true,
	"gclid":       true,
	"msclkid":     true,
	"mc_cid":      true,
	"mc_eid":      true,
	"source":      true,
	"origin":      true,
	"searchId":    true,
	"galleryMode": true,
}

// CanonicalizeURL normalizes a listing URL for dedup: scheme and host
// lowercased, tracking parameters and fragment removed, trailing slash
// stripped, remaining query keys re-encoded in sorted order. The function
// is idempotent; unparseable input is returned as-is.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingParams[key] || strings.HasPrefix(strings.ToLower(key), "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}
