package rules

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/raysh454/ztguard/internal/features"
	"golang.org/x/text/unicode/norm"
)

// confusables maps non-Latin letters to the ASCII letter they imitate.
var confusables = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y',
	'х': 'x', 'ѕ': 's', 'і': 'i', 'ј': 'j', 'ԁ': 'd', 'ɡ': 'g',
	'ɑ': 'a', 'ο': 'o', 'ν': 'v', 'ω': 'w', 'τ': 't', 'һ': 'h',
	'ӏ': 'l', 'ԝ': 'w', 'α': 'a', 'κ': 'k', 'ρ': 'p', 'ι': 'i',
}

func homograph(Config) check {
	return func(_ string, v *features.Vector) (string, bool) {
		if v.UnicodeHost == "" || v.HasIPLiteralHost {
			return "", false
		}
		for _, label := range strings.Split(v.UnicodeHost, ".") {
			if reason, ok := inspectLabel(label); ok {
				return reason, true
			}
		}
		return "", false
	}
}

// inspectLabel fires when a label mixes Latin letters with Cyrillic or
// Greek ones, or when its confusable skeleton is plain ASCII.
func inspectLabel(label string) (string, bool) {
	nfkc := norm.NFKC.String(label)
	if nfkc != label && isASCII(nfkc) {
		return fmt.Sprintf("Potential homograph attack: %q normalizes to %q", label, nfkc), true
	}

	var (
		skeleton  strings.Builder
		latin     bool
		foreign   bool
		lookalike rune
	)
	for _, r := range nfkc {
		if r < unicode.MaxASCII {
			if unicode.IsLetter(r) {
				latin = true
			}
			skeleton.WriteRune(r)
			continue
		}
		if unicode.In(r, unicode.Cyrillic, unicode.Greek) {
			foreign = true
		}
		if m, ok := confusables[r]; ok {
			if lookalike == 0 {
				lookalike = r
			}
			skeleton.WriteRune(m)
			continue
		}
		skeleton.WriteRune(r)
	}

	switch {
	case lookalike != 0 && (latin || isASCII(skeleton.String())):
		return fmt.Sprintf("Potential homograph attack: '%c' looks like '%c'", lookalike, confusables[lookalike]), true
	case latin && foreign:
		return fmt.Sprintf("Potential homograph attack: %q mixes Latin with Cyrillic or Greek letters", label), true
	}
	return "", false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= unicode.MaxASCII {
			return false
		}
	}
	return true
}
