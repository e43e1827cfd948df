// Package scoring merges the independent detection signals of a scan into a
// single confidence and severity band.
package scoring

import (
	"fmt"
	"math"
)

// Verdict is the operator-facing classification of a scan.
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
)

// Weights splits confidence between the model share and the rule score.
type Weights struct {
	ML   float64 `yaml:"ml"`
	Rule float64 `yaml:"rule"`
}

func (w Weights) Validate() error {
	if w.ML < 0 || w.Rule < 0 {
		return fmt.Errorf("weights must be non-negative (ml=%v rule=%v)", w.ML, w.Rule)
	}
	if math.Abs(w.ML+w.Rule-1) > 1e-9 {
		return fmt.Errorf("weights must sum to 1, got %v", w.ML+w.Rule)
	}
	return nil
}

type Config struct {
	Weights Weights `yaml:"weights"`
	// SemanticShare is the part of the model share carried by the semantic
	// score when one is present.
	SemanticShare float64 `yaml:"semantic_share"`
	// DegradedFactor scales the rule score when no ML score is available.
	DegradedFactor      float64 `yaml:"degraded_factor"`
	PhishingThreshold   float64 `yaml:"phishing_threshold"`
	SuspiciousThreshold float64 `yaml:"suspicious_threshold"`
}

func DefaultConfig() Config {
	return Config{
		Weights:             Weights{ML: 0.45, Rule: 0.55},
		SemanticShare:       0.5,
		DegradedFactor:      0.8,
		PhishingThreshold:   0.5,
		SuspiciousThreshold: 0.3,
	}
}

func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	for name, v := range map[string]float64{
		"semantic_share":       c.SemanticShare,
		"degraded_factor":      c.DegradedFactor,
		"phishing_threshold":   c.PhishingThreshold,
		"suspicious_threshold": c.SuspiciousThreshold,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.SuspiciousThreshold > c.PhishingThreshold {
		return fmt.Errorf("suspicious_threshold (%v) exceeds phishing_threshold (%v)", c.SuspiciousThreshold, c.PhishingThreshold)
	}
	return nil
}

// Signals are the per-scan inputs. A nil ML score means the provider was
// unavailable; a nil Semantic score means no semantic model is wired.
type Signals struct {
	ML       *float64
	Rule     float64
	Semantic *float64
}

type Result struct {
	Confidence float64
	Severity   Severity
	IsPhishing bool
	Verdict    Verdict
	Reason     string
	Degraded   bool
}

// Combiner is a pure function of its Config.
type Combiner struct {
	cfg Config
}

func NewCombiner(cfg Config) *Combiner {
	return &Combiner{cfg: cfg}
}

func (c *Combiner) Combine(s Signals) Result {
	w := c.cfg.Weights
	rule := clamp01(s.Rule)

	var confidence float64
	degraded := s.ML == nil
	switch {
	case s.ML != nil && s.Semantic != nil:
		model := c.cfg.SemanticShare*clamp01(*s.Semantic) + (1-c.cfg.SemanticShare)*clamp01(*s.ML)
		confidence = w.Rule*rule + w.ML*model
	case s.ML != nil:
		confidence = w.Rule*rule + w.ML*clamp01(*s.ML)
	case s.Semantic != nil:
		confidence = w.Rule*rule + w.ML*clamp01(*s.Semantic)
	default:
		confidence = rule * c.cfg.DegradedFactor
	}
	return c.Classify(round4(clamp01(confidence)), degraded)
}

// Classify derives severity, phishing flag and verdict for a confidence that
// was decided elsewhere (threat-intel matches).
func (c *Combiner) Classify(confidence float64, degraded bool) Result {
	r := Result{
		Confidence: confidence,
		Severity:   SeverityFor(confidence),
		IsPhishing: confidence >= c.cfg.PhishingThreshold,
		Degraded:   degraded,
	}
	switch {
	case r.IsPhishing:
		r.Verdict = VerdictMalicious
		if confidence >= 0.8 {
			r.Reason = "High confidence phishing detection"
		} else {
			r.Reason = "Potential phishing detected"
		}
	case confidence >= c.cfg.SuspiciousThreshold:
		r.Verdict = VerdictSuspicious
		r.Reason = "Some suspicious indicators found"
	default:
		r.Verdict = VerdictSafe
		r.Reason = "No significant threats detected"
	}
	if degraded {
		r.Reason += " (ML score unavailable, rule-based estimate)"
	}
	return r
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
