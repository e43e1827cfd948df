package features_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/features"
)

func newExtractor() *features.Extractor {
	return features.NewExtractor(features.DefaultConfig())
}

func TestExtract_InvalidURL(t *testing.T) {
	t.Parallel()
	e := newExtractor()
	for _, in := range []string{"", "   ", "http://", "https:///path-only", "http://host:port/"} {
		if _, err := e.Extract(in); !errors.Is(err, apperr.InvalidURL) {
			t.Errorf("Extract(%q) err = %v, want InvalidURL", in, err)
		}
	}
}

func TestExtract_SchemelessWithEmbeddedURL(t *testing.T) {
	t.Parallel()
	v, err := newExtractor().Extract("evil.com/redirect?to=https://paypal.com")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Host != "evil.com" || v.Scheme != "" || v.HasHTTPS {
		t.Fatalf("host=%q scheme=%q https=%v", v.Host, v.Scheme, v.HasHTTPS)
	}
	if v.Path != "/redirect" || !strings.Contains(v.Query, "https://paypal.com") {
		t.Fatalf("path=%q query=%q", v.Path, v.Query)
	}
	if v.Raw != "evil.com/redirect?to=https://paypal.com" {
		t.Fatalf("raw = %q", v.Raw)
	}

	v, err = newExtractor().Extract("localhost:8080/health")
	if err != nil || v.Host != "localhost" || !v.HasPort {
		t.Fatalf("host:port without scheme: %+v, %v", v, err)
	}
}

func TestExtract_IPLiteralWithKeywords(t *testing.T) {
	t.Parallel()
	v, err := newExtractor().Extract("http://192.168.1.1/secure-login-update")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !v.HasIPLiteralHost {
		t.Fatalf("expected IP literal host")
	}
	if v.RegistrableDomain != "" || v.SubdomainCount != 0 {
		t.Fatalf("IP hosts have no domain parts: %+v", v)
	}
	want := []string{"login", "update", "secure"}
	if !reflect.DeepEqual(v.SuspiciousKeywords, want) {
		t.Fatalf("keywords = %v, want %v", v.SuspiciousKeywords, want)
	}
	if v.Domain() != "192.168.1.1" {
		t.Fatalf("Domain() = %q", v.Domain())
	}
}

func TestExtract_DomainParts(t *testing.T) {
	t.Parallel()
	v, err := newExtractor().Extract("https://a.b.c.d.example.co.uk:8443/x?q=1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.RegistrableDomain != "example.co.uk" || v.TLD != "co.uk" {
		t.Fatalf("unexpected domain split: %q / %q", v.RegistrableDomain, v.TLD)
	}
	if v.Subdomain != "a.b.c.d" || v.SubdomainCount != 4 {
		t.Fatalf("unexpected subdomain: %q (%d)", v.Subdomain, v.SubdomainCount)
	}
	if !v.HasHTTPS || !v.HasPort {
		t.Fatalf("expected https with port")
	}
	if v.Query != "q=1" || v.Path != "/x" {
		t.Fatalf("unexpected path/query: %q %q", v.Path, v.Query)
	}
}

func TestExtract_SchemelessIsParsedAsHTTP(t *testing.T) {
	t.Parallel()
	v, err := newExtractor().Extract("bit.ly/abc")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Host != "bit.ly" || !v.IsKnownShortener {
		t.Fatalf("expected shortener host, got %+v", v)
	}
	if v.HasHTTPS || v.Scheme != "" {
		t.Fatalf("schemeless input must not report a scheme")
	}
	if v.URLLength != len("bit.ly/abc") {
		t.Fatalf("length measured on the wrong string: %d", v.URLLength)
	}
}

func TestExtract_SuspiciousTLD(t *testing.T) {
	t.Parallel()
	v, err := newExtractor().Extract("http://free-prizes.tk/")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !v.SuspiciousTLD || v.TLD != "tk" {
		t.Fatalf("expected suspicious tld, got %q", v.TLD)
	}
	if v.HostHyphens != 1 {
		t.Fatalf("HostHyphens = %d", v.HostHyphens)
	}
}

func TestExtract_IDNHostForms(t *testing.T) {
	t.Parallel()
	v, err := newExtractor().Extract("http://p\u0430ypal.com/")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.HasPrefix(v.Host, "xn--") {
		t.Fatalf("Host = %q, want punycode", v.Host)
	}
	if v.UnicodeHost != "p\u0430ypal.com" {
		t.Fatalf("UnicodeHost = %q", v.UnicodeHost)
	}
	if v.HostHyphens != 0 {
		t.Fatalf("punycode prefix must not count as hyphens, got %d", v.HostHyphens)
	}
}

func TestExtract_DataURI(t *testing.T) {
	t.Parallel()
	v, err := newExtractor().Extract("data:text/html;base64,PHNjcmlwdD4=")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.Scheme != "data" || v.Host != "" {
		t.Fatalf("unexpected data vector: %+v", v)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	t.Parallel()
	e := newExtractor()
	a, _ := e.Extract("https://login.secure-paypal.example.xyz/verify?account=1")
	b, _ := e.Extract("https://login.secure-paypal.example.xyz/verify?account=1")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("vectors differ")
	}
	m := a.Map()
	if m["num_suspicious_keywords"].(int) != len(a.SuspiciousKeywords) {
		t.Fatalf("map keyword count mismatch")
	}
}

func TestEntropy(t *testing.T) {
	t.Parallel()
	if got := features.Entropy(""); got != 0 {
		t.Fatalf("Entropy(\"\") = %v", got)
	}
	if got := features.Entropy("aaaa"); got != 0 {
		t.Fatalf("Entropy(aaaa) = %v", got)
	}
	if got := features.Entropy("abcd"); got != 2 {
		t.Fatalf("Entropy(abcd) = %v", got)
	}
}
