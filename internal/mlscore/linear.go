package mlscore

import (
	"context"
	"math"
	"sort"

	"github.com/raysh454/ztguard/internal/features"
)

// LinearConfig holds a logistic model over the feature map.
type LinearConfig struct {
	Bias    float64            `yaml:"bias"`
	Weights map[string]float64 `yaml:"weights"`
}

func DefaultLinearConfig() LinearConfig {
	return LinearConfig{
		Bias: -4.5,
		Weights: map[string]float64{
			"has_ip":                  2.0,
			"suspicious_tld":          1.2,
			"num_suspicious_keywords": 0.6,
			"is_shortened":            0.8,
			"has_at_symbol":           1.5,
			"subdomain_count":         0.3,
			"num_hyphens":             0.15,
			"num_digits":              0.05,
			"entropy":                 0.4,
			"url_length":              0.01,
			"has_port":                0.5,
			"has_https":               -0.8,
		},
	}
}

// LinearModel is a deterministic stand-in for a trained classifier.
type LinearModel struct {
	bias    float64
	names   []string
	weights []float64
}

func NewLinearModel(cfg LinearConfig) *LinearModel {
	names := make([]string, 0, len(cfg.Weights))
	for k := range cfg.Weights {
		names = append(names, k)
	}
	// fixed summation order keeps the float result stable
	sort.Strings(names)
	m := &LinearModel{bias: cfg.Bias, names: names, weights: make([]float64, len(names))}
	for i, n := range names {
		m.weights[i] = cfg.Weights[n]
	}
	return m
}

func (m *LinearModel) Score(ctx context.Context, v *features.Vector) (float64, error) {
	if err := ctx.Err(); err != nil {
		return Checked("mlscore.LinearModel", 0, err)
	}
	fm := v.Map()
	z := m.bias
	for i, name := range m.names {
		z += m.weights[i] * numeric(fm[name])
	}
	p := 1 / (1 + math.Exp(-z))
	return math.Round(p*1e4) / 1e4, nil
}

func numeric(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case []string:
		return float64(len(x))
	default:
		return 0
	}
}
