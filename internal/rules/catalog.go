package rules

import (
	"fmt"
	"strings"

	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/scoring"
)

// check returns the reason when the rule fires.
type check func(raw string, v *features.Vector) (string, bool)

type definition struct {
	name     string
	title    string
	score    float64
	severity scoring.Severity
	build    func(cfg Config) check
}

// heuristic adapts a definition plus its configured check to Rule.
type heuristic struct {
	name     string
	title    string
	score    float64
	severity scoring.Severity
	check    check
}

func (h *heuristic) Name() string { return h.name }

func (h *heuristic) Evaluate(raw string, v *features.Vector) (MatchedRule, bool) {
	reason, ok := h.check(raw, v)
	if !ok {
		return MatchedRule{}, false
	}
	return MatchedRule{Name: h.name, Title: h.title, Score: h.score, Severity: h.severity, Reason: reason}, true
}

var catalog = []definition{
	{"suspicious_tld", "Suspicious TLD", 0.40, scoring.SeverityMedium, suspiciousTLD},
	{"ip_literal_host", "IP Address in URL", 0.80, scoring.SeverityHigh, ipLiteralHost},
	{"long_url", "Abnormally Long URL", 0.20, scoring.SeverityLow, longURL},
	{"excessive_subdomains", "Excessive Subdomains", 0.50, scoring.SeverityMedium, excessiveSubdomains},
	{"suspicious_keywords", "Suspicious Keywords", 0.40, scoring.SeverityMedium, suspiciousKeywords},
	{"url_shortener", "URL Shortener", 0.30, scoring.SeverityLow, urlShortener},
	{"homograph", "Potential Homograph Attack", 0.90, scoring.SeverityCritical, homograph},
	{"typosquatting", "Typosquatting Attack", 0.95, scoring.SeverityCritical, typosquatting},
	{"data_uri", "Data URI Scheme", 0.90, scoring.SeverityCritical, dataURI},
	{"excessive_hyphens", "Multiple Hyphens in Domain", 0.40, scoring.SeverityMedium, excessiveHyphens},
	{"numeric_heavy_domain", "Numeric-Heavy Domain", 0.60, scoring.SeverityMedium, numericHeavyDomain},
	{"high_entropy", "High Entropy URL", 0.35, scoring.SeverityMedium, highEntropy},
}

// Catalog instantiates every rule in evaluation order, applying score
// overrides from cfg.
func Catalog(cfg Config) []Rule {
	out := make([]Rule, 0, len(catalog))
	for _, d := range catalog {
		score := d.score
		if s, ok := cfg.Scores[d.name]; ok {
			score = s
		}
		out = append(out, &heuristic{
			name:     d.name,
			title:    d.title,
			score:    score,
			severity: d.severity,
			check:    d.build(cfg),
		})
	}
	return out
}

func suspiciousTLD(Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if !v.SuspiciousTLD {
			return "", false
		}
		return fmt.Sprintf("Suspicious TLD detected: .%s", v.TLD), true
	}
}

func ipLiteralHost(Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if !v.HasIPLiteralHost {
			return "", false
		}
		return "URL contains IP address instead of domain", true
	}
}

func longURL(cfg Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if v.URLLength <= cfg.LongURLThreshold {
			return "", false
		}
		return fmt.Sprintf("URL length (%d) exceeds %d characters", v.URLLength, cfg.LongURLThreshold), true
	}
}

func excessiveSubdomains(cfg Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if v.SubdomainCount <= cfg.SubdomainThreshold {
			return "", false
		}
		return fmt.Sprintf("Excessive subdomains detected (%d)", v.SubdomainCount), true
	}
}

func suspiciousKeywords(Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if len(v.SuspiciousKeywords) == 0 {
			return "", false
		}
		kw := v.SuspiciousKeywords
		if len(kw) > 5 {
			kw = kw[:5]
		}
		return "Suspicious keywords found: " + strings.Join(kw, ", "), true
	}
}

func urlShortener(Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if !v.IsKnownShortener {
			return "", false
		}
		return "URL uses shortening service " + v.Host, true
	}
}

func dataURI(Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if v.Scheme != "data" {
			return "", false
		}
		return "Data URI scheme can hide malicious content", true
	}
}

func excessiveHyphens(cfg Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if v.HostHyphens <= cfg.HyphenThreshold {
			return "", false
		}
		return fmt.Sprintf("Excessive hyphens in domain (%d)", v.HostHyphens), true
	}
}

func numericHeavyDomain(cfg Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if v.HasIPLiteralHost || v.HostDigitRatio <= cfg.DigitRatioThreshold {
			return "", false
		}
		return fmt.Sprintf("Domain is %.0f%% digits", v.HostDigitRatio*100), true
	}
}

func highEntropy(cfg Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if v.Entropy <= cfg.EntropyThreshold {
			return "", false
		}
		return fmt.Sprintf("High entropy (%.2f) suggests random/obfuscated URL", v.Entropy), true
	}
}

// nameLabels returns the ASCII host labels left of the public suffix.
func nameLabels(v *features.Vector) []string {
	if v.Host == "" || v.HasIPLiteralHost {
		return nil
	}
	name := v.Host
	if v.TLD != "" && strings.HasSuffix(name, "."+v.TLD) {
		name = strings.TrimSuffix(name, "."+v.TLD)
	}
	return strings.Split(name, ".")
}
