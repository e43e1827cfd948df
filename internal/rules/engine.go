// Package rules evaluates the fixed catalog of URL heuristics.
package rules

import (
	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/scoring"
)

// MatchedRule is one heuristic that fired for a URL.
type MatchedRule struct {
	Name     string           `json:"name"`
	Title    string           `json:"title"`
	Score    float64          `json:"score"`
	Severity scoring.Severity `json:"severity"`
	Reason   string           `json:"reason"`
}

// Rule is one strategy of the catalog.
type Rule interface {
	Name() string
	Evaluate(url string, v *features.Vector) (MatchedRule, bool)
}

// Result holds the combined rule score and the matches in catalog order.
type Result struct {
	Score   float64
	Matches []MatchedRule
}

// Names returns the names of the matched rules.
func (r Result) Names() []string {
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Name
	}
	return out
}

type Engine struct {
	rules []Rule
	mode  CombineMode
}

// NewEngine builds the catalog from cfg. The catalog order is fixed.
func NewEngine(cfg Config) *Engine {
	return &Engine{rules: Catalog(cfg), mode: cfg.Combine}
}

func (e *Engine) Rules() []Rule { return e.rules }

func (e *Engine) Evaluate(url string, v *features.Vector) Result {
	res := Result{Matches: []MatchedRule{}}
	if v == nil {
		return res
	}
	for _, r := range e.rules {
		m, ok := r.Evaluate(url, v)
		if !ok {
			continue
		}
		res.Matches = append(res.Matches, m)
		switch e.mode {
		case CombineMax:
			if m.Score > res.Score {
				res.Score = m.Score
			}
		default:
			res.Score += m.Score
		}
	}
	if res.Score > 1 {
		res.Score = 1
	}
	return res
}
