// Package mlscore provides the model-backed scores the combiner consumes.
// Any backing model is an injected Provider; failures surface as
// apperr.ScoringUnavailable so callers can take the degraded path.
package mlscore

import (
	"context"
	"math"

	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/features"
)

// Provider returns a value in [0,1] for a feature vector. Implementations
// must be deterministic for identical input.
type Provider interface {
	Score(ctx context.Context, v *features.Vector) (float64, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, v *features.Vector) (float64, error)

func (f ProviderFunc) Score(ctx context.Context, v *features.Vector) (float64, error) {
	return f(ctx, v)
}

// Unavailable always fails; wiring it runs the engine rule-only.
type Unavailable struct{}

func (Unavailable) Score(context.Context, *features.Vector) (float64, error) {
	return 0, apperr.New(apperr.ScoringUnavailable, "mlscore.Unavailable", "no model configured")
}

// Checked validates a provider result: errors are classified as
// ScoringUnavailable and out-of-range values are rejected.
func Checked(op string, score float64, err error) (float64, error) {
	if err != nil {
		if apperr.KindOf(err) == apperr.ScoringUnavailable {
			return 0, err
		}
		return 0, apperr.Wrap(apperr.ScoringUnavailable, op, err)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, apperr.New(apperr.ScoringUnavailable, op, "score %v out of range", score)
	}
	return score, nil
}
