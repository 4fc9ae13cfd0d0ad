// Package confidence folds a consensus outcome's sub-scores into one
// composite score and maps the score to a settlement recommendation.
package confidence

import (
	"solana-metrics-oracle/internal/domain"
)

// Default composite weights.
const (
	DefaultDataQualityWeight      = 0.30
	DefaultPriceReliabilityWeight = 0.30
	DefaultFreshnessWeight        = 0.20
	DefaultCoverageWeight         = 0.20
)

// Default recommendation thresholds.
const (
	DefaultResolveThreshold = 0.90
	DefaultFlagThreshold    = 0.80
	DefaultDelayThreshold   = 0.60
)

// Weights are the relative importance of each sub-score. They are
// normalized over their sum, so any positive scale works.
type Weights struct {
	DataQuality      float64
	PriceReliability float64
	Freshness        float64
	Coverage         float64
}

// DefaultWeights returns the standard composite weighting.
func DefaultWeights() Weights {
	return Weights{
		DataQuality:      DefaultDataQualityWeight,
		PriceReliability: DefaultPriceReliabilityWeight,
		Freshness:        DefaultFreshnessWeight,
		Coverage:         DefaultCoverageWeight,
	}
}

func (w Weights) sum() float64 {
	return w.DataQuality + w.PriceReliability + w.Freshness + w.Coverage
}

// Thresholds are the lower bounds of the RESOLVE, RESOLVE_FLAGGED and
// DELAY bands. Anything under Delay recommends cancellation.
type Thresholds struct {
	Resolve float64
	Flag    float64
	Delay   float64
}

// DefaultThresholds returns the standard decision bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Resolve: DefaultResolveThreshold,
		Flag:    DefaultFlagThreshold,
		Delay:   DefaultDelayThreshold,
	}
}

// Scores are the four sub-scores of one resolved request. A dimension
// that does not apply to the metric kind must be reported as 1.0 by the
// producer, never 0; the scorer cannot tell vacuous from terrible.
type Scores struct {
	DataQuality      float64
	PriceReliability float64
	Freshness        float64
	Coverage         float64
}

// Verdict is the scored result.
type Verdict struct {
	Confidence     float64 // in [0,1]
	Recommendation domain.Recommendation
}

// Scorer computes composite confidence. Pure and stateless.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides the composite weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithThresholds overrides the decision bands.
func WithThresholds(t Thresholds) Option {
	return func(s *Scorer) { s.thresholds = t }
}

// New builds a scorer with the default weights and thresholds.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		weights:    DefaultWeights(),
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score folds the sub-scores into a confidence value and recommendation.
// Sub-scores are clamped to [0,1] before weighting, so the composite is
// always in [0,1] no matter what the producer reported.
func (s *Scorer) Score(scores Scores) Verdict {
	total := s.weights.sum()
	if total <= 0 {
		return Verdict{Confidence: 0, Recommendation: domain.RecommendCancel}
	}
	c := (s.weights.DataQuality*clamp01(scores.DataQuality) +
		s.weights.PriceReliability*clamp01(scores.PriceReliability) +
		s.weights.Freshness*clamp01(scores.Freshness) +
		s.weights.Coverage*clamp01(scores.Coverage)) / total

	return Verdict{Confidence: c, Recommendation: s.recommend(c)}
}

func (s *Scorer) recommend(confidence float64) domain.Recommendation {
	switch {
	case confidence >= s.thresholds.Resolve:
		return domain.RecommendResolve
	case confidence >= s.thresholds.Flag:
		return domain.RecommendResolveFlagged
	case confidence >= s.thresholds.Delay:
		return domain.RecommendDelay
	}
	return domain.RecommendCancel
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
