package utils

import (
	"errors"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// CanonicalizeOptions controls optional canonicalization policies.
type CanonicalizeOptions struct {
	DropTrackingParams bool   // remove common tracking params (utm_*, gclid, fbclid, ...)
	StripTrailingSlash bool   // treat /a and /a/ the same by removing trailing slash (except for root "/")
	DefaultScheme      string // if empty, require scheme in input; otherwise assume this scheme for schemeless URLs
}

// DedupOptions is the policy used for alert dedup keys: two submissions of
// the same page with different tracking params or fragments collapse.
var DedupOptions = CanonicalizeOptions{
	DropTrackingParams: true,
	StripTrailingSlash: true,
	DefaultScheme:      "http",
}

var defaultTrackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"gclid": {}, "fbclid": {}, "mc_cid": {}, "mc_eid": {},
}

var (
	ErrEmptyURL    = errors.New("canonicalize: empty url")
	ErrMissingHost = errors.New("canonicalize: missing host")
)

// Canonicalize returns a deterministic canonical URL string or an error.
// It uses net/url plus path.Clean and sorts query params for determinism.
func Canonicalize(raw string, opts CanonicalizeOptions) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}

	if opts.DefaultScheme != "" && !HasScheme(raw) {
		raw = opts.DefaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", ErrMissingHost
	}

	u.Scheme = strings.ToLower(u.Scheme)

	host := strings.ToLower(u.Hostname())
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}

	// Preserve non-default port only
	port := u.Port()
	switch {
	case (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443"):
		u.Host = host
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	default:
		u.Host = host
	}

	u.User = nil
	u.Fragment = ""

	cleanPath := path.Clean(u.Path)
	if cleanPath == "." {
		cleanPath = "/"
	}
	if opts.StripTrailingSlash && len(cleanPath) > 1 {
		cleanPath = strings.TrimRight(cleanPath, "/")
		if cleanPath == "" {
			cleanPath = "/"
		}
	}
	if opts.StripTrailingSlash && cleanPath == "/" {
		cleanPath = ""
	}
	u.Path = cleanPath
	u.RawPath = ""

	u.RawQuery = canonicalQuery(u.Query(), opts.DropTrackingParams)
	return u.String(), nil
}

// HasScheme reports whether raw starts with "scheme://". A "://" later in
// the string (a redirect target in the query) does not count.
func HasScheme(raw string) bool {
	i := strings.Index(raw, ":")
	if i <= 0 || !strings.HasPrefix(raw[i:], "://") {
		return false
	}
	for j, c := range raw[:i] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// EntityKey returns the canonical form of raw under DedupOptions, or the
// trimmed, lowercased input when it has no host (data: URLs).
func EntityKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "data:") {
		return strings.ToLower(trimmed)
	}
	if c, err := Canonicalize(raw, DedupOptions); err == nil {
		return c
	}
	return strings.ToLower(trimmed)
}

func canonicalQuery(q url.Values, dropTracking bool) string {
	if dropTracking {
		for k := range q {
			if _, tracking := defaultTrackingParams[strings.ToLower(k)]; tracking {
				q.Del(k)
			}
		}
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := url.Values{}
	for _, k := range keys {
		values := q[k]
		sort.Strings(values)
		for _, v := range values {
			ordered.Add(k, v)
		}
	}
	return ordered.Encode()
}
