package rules

import (
	"fmt"
	"strings"

	"github.com/raysh454/ztguard/internal/features"
	"github.com/sergi/go-diff/diffmatchpatch"
)

var substitutions = strings.NewReplacer(
	"0", "o", "1", "l", "|", "l", "3", "e", "4", "a", "5", "s", "rn", "m", "vv", "w",
)

func typosquatting(cfg Config) check {
	brands := make([]string, 0, len(cfg.Brands))
	isBrand := map[string]bool{}
	for _, b := range cfg.Brands {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" || isBrand[b] {
			continue
		}
		isBrand[b] = true
		brands = append(brands, b)
	}
	m := mimicry{
		dmp:           diffmatchpatch.New(),
		minBrand:      cfg.TyposquatMinBrandLength,
		substitutions: cfg.TyposquatSubstitutions,
	}

	return func(_ string, v *features.Vector) (string, bool) {
		for _, label := range nameLabels(v) {
			if strings.HasPrefix(label, "xn--") {
				continue
			}
			for _, token := range tokens(label) {
				if isBrand[token] {
					continue
				}
				for _, brand := range brands {
					if reason, ok := m.mimics(token, brand); ok {
						return reason, true
					}
				}
			}
		}
		return "", false
	}
}

// tokens yields the label itself and, for hyphenated labels, each part.
func tokens(label string) []string {
	parts := strings.Split(label, "-")
	if len(parts) == 1 {
		return parts
	}
	return append([]string{label}, parts...)
}

type mimicry struct {
	dmp           *diffmatchpatch.DiffMatchPatch
	minBrand      int
	substitutions bool
}

// mimics reports a token one edit away from brand. With substitutions on,
// a token that spells brand after undoing look-alike characters also counts.
func (m mimicry) mimics(token, brand string) (string, bool) {
	if token == "" {
		return "", false
	}
	if m.substitutions && substitutions.Replace(token) == substitutions.Replace(brand) {
		return fmt.Sprintf("Typosquatting detected: '%s' mimics '%s'", token, brand), true
	}
	if len(brand) < m.minBrand {
		return "", false
	}
	if d := len(token) - len(brand); d > 1 || d < -1 {
		return "", false
	}
	if m.dmp.DiffLevenshtein(m.dmp.DiffMain(token, brand, false)) == 1 {
		return fmt.Sprintf("Typosquatting detected: '%s' is one edit away from '%s'", token, brand), true
	}
	return "", false
}
