package scoring

import (
	"fmt"
	"strings"
)

// Severity is the band a confidence value falls in.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Severities lists every band from lowest to highest.
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities; unknown values rank below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is the same band as min or higher.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

func (s Severity) String() string { return string(s) }

// ParseSeverity accepts any case and rejects unknown names.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// SeverityFor maps a confidence to its band. Lower bounds are inclusive.
func SeverityFor(confidence float64) Severity {
	switch {
	case confidence >= 0.90:
		return SeverityCritical
	case confidence >= 0.70:
		return SeverityHigh
	case confidence >= 0.50:
		return SeverityMedium
	case confidence >= 0.30:
		return SeverityLow
	default:
		return SeverityInfo
	}
}
