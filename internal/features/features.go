// Package features turns a raw URL into the immutable feature vector consumed
// by the rule engine and the ML score providers.
package features

import (
	"math"
	"net"
	"net/url"
	"strings"
	"unicode"

	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/utils"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Vector is the per-scan feature set. Lengths, counts and entropy are
// measured on the submitted string (Raw, trimmed); the parsed fields
// describe the host.
type Vector struct {
	URLLength          int
	DomainLength       int
	PathLength         int
	QueryLength        int
	NumDots            int
	NumHyphens         int
	NumDigits          int
	NumSpecialChars    int
	Entropy            float64
	HasHTTPS           bool
	HasIPLiteralHost   bool
	SubdomainCount     int
	SuspiciousKeywords []string
	IsKnownShortener   bool
	SuspiciousTLD      bool

	Raw               string
	Scheme            string
	Host              string // ASCII (punycode) form
	UnicodeHost       string
	RegistrableDomain string
	TLD               string
	Subdomain         string
	Path              string
	Query             string
	HostHyphens       int
	HostDigitRatio    float64
	HasAtSymbol       bool
	HasPort           bool
}

// Domain is the registrable domain when known, the host otherwise.
func (v *Vector) Domain() string {
	if v.RegistrableDomain != "" {
		return v.RegistrableDomain
	}
	return v.Host
}

// Map returns the feature map exposed over the API and fed to the models.
func (v *Vector) Map() map[string]any {
	kw := v.SuspiciousKeywords
	if kw == nil {
		kw = []string{}
	}
	return map[string]any{
		"url_length":              v.URLLength,
		"domain_length":           v.DomainLength,
		"path_length":             v.PathLength,
		"query_length":            v.QueryLength,
		"num_dots":                v.NumDots,
		"num_hyphens":             v.NumHyphens,
		"num_digits":              v.NumDigits,
		"num_special_chars":       v.NumSpecialChars,
		"entropy":                 v.Entropy,
		"has_https":               v.HasHTTPS,
		"has_ip":                  v.HasIPLiteralHost,
		"subdomain_count":         v.SubdomainCount,
		"suspicious_keywords":     kw,
		"num_suspicious_keywords": len(kw),
		"is_shortened":            v.IsKnownShortener,
		"suspicious_tld":          v.SuspiciousTLD,
		"has_at_symbol":           v.HasAtSymbol,
		"has_port":                v.HasPort,
		"domain":                  v.Domain(),
		"subdomain":               v.Subdomain,
		"tld":                     v.TLD,
		"path":                    v.Path,
		"query":                   v.Query,
	}
}

// Extractor is safe for concurrent use; it holds only read-only lookup sets.
type Extractor struct {
	keywords   []string
	tlds       map[string]struct{}
	shorteners []string
}

func NewExtractor(cfg Config) *Extractor {
	e := &Extractor{
		tlds:       make(map[string]struct{}, len(cfg.SuspiciousTLDs)),
		shorteners: make([]string, 0, len(cfg.Shorteners)),
	}
	seen := map[string]struct{}{}
	for _, k := range cfg.SuspiciousKeywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if _, dup := seen[k]; dup || k == "" {
			continue
		}
		seen[k] = struct{}{}
		e.keywords = append(e.keywords, k)
	}
	for _, t := range cfg.SuspiciousTLDs {
		e.tlds[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))] = struct{}{}
	}
	for _, s := range cfg.Shorteners {
		e.shorteners = append(e.shorteners, strings.ToLower(strings.TrimSpace(s)))
	}
	return e
}

// Extract parses raw and computes its features. A missing scheme is parsed
// as http without being reported as such; data: URLs carry no host.
func (e *Extractor) Extract(raw string) (*Vector, error) {
	const op = "features.Extract"

	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, apperr.New(apperr.InvalidURL, op, "empty url")
	}

	v := &Vector{
		Raw:       s,
		URLLength: len(s),
		Entropy:   Entropy(s),
	}
	countChars(s, v)

	if len(s) >= 5 && strings.EqualFold(s[:5], "data:") {
		v.Scheme = "data"
		v.Path = s[5:]
		v.PathLength = len(v.Path)
		return v, nil
	}

	hasScheme := utils.HasScheme(s)
	target := s
	if !hasScheme {
		target = "http://" + s
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidURL, op, err)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, apperr.New(apperr.InvalidURL, op, "no host in %q", s)
	}

	if hasScheme {
		v.Scheme = strings.ToLower(u.Scheme)
	}
	v.HasHTTPS = v.Scheme == "https"
	v.HasPort = u.Port() != ""
	v.Path = u.Path
	v.Query = u.RawQuery
	if q, err := url.QueryUnescape(u.RawQuery); err == nil {
		v.Query = q
	}
	v.PathLength = len(v.Path)
	v.QueryLength = len(u.RawQuery)

	v.Host = host
	v.UnicodeHost = host
	if ip := net.ParseIP(host); ip != nil {
		v.HasIPLiteralHost = true
	} else {
		if ascii, err := idna.Lookup.ToASCII(host); err == nil {
			v.Host = ascii
		}
		if uni, err := idna.Display.ToUnicode(v.Host); err == nil {
			v.UnicodeHost = uni
		}
		e.fillDomain(v)
	}

	v.HostHyphens = strings.Count(v.UnicodeHost, "-")
	v.HostDigitRatio = digitRatio(v.UnicodeHost)
	v.SuspiciousKeywords = e.keywordsIn(strings.ToLower(v.Path + " " + v.Query))
	v.IsKnownShortener = e.isShortener(v.Host)
	return v, nil
}

func (e *Extractor) fillDomain(v *Vector) {
	suffix, _ := publicsuffix.PublicSuffix(v.Host)
	v.TLD = suffix
	_, v.SuspiciousTLD = e.tlds[suffix]

	registrable, err := publicsuffix.EffectiveTLDPlusOne(v.Host)
	if err != nil {
		// host is itself a public suffix or a single label
		registrable = v.Host
	}
	v.RegistrableDomain = registrable
	v.DomainLength = len(registrable)
	if v.Host != registrable {
		v.Subdomain = strings.TrimSuffix(v.Host, "."+registrable)
		v.SubdomainCount = strings.Count(v.Subdomain, ".") + 1
	}
}

func (e *Extractor) keywordsIn(text string) []string {
	var found []string
	for _, k := range e.keywords {
		if strings.Contains(text, k) {
			found = append(found, k)
		}
	}
	return found
}

func (e *Extractor) isShortener(host string) bool {
	for _, s := range e.shorteners {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func countChars(s string, v *Vector) {
	for _, r := range s {
		switch {
		case r == '.':
			v.NumDots++
		case r == '-':
			v.NumHyphens++
		case unicode.IsDigit(r):
			v.NumDigits++
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("./-_", r) {
			v.NumSpecialChars++
		}
	}
	v.HasAtSymbol = strings.Contains(s, "@")
}

func digitRatio(host string) float64 {
	var digits, total int
	for _, r := range host {
		if r == '.' {
			continue
		}
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}

// Entropy is the Shannon entropy (log2) of the character distribution of s,
// rounded to 4 decimals.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := map[rune]int{}
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return math.Round(h*1e4) / 1e4
}
