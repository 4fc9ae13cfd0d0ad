package confidence

import (
	"math"
	"testing"

	"solana-metrics-oracle/internal/domain"
)

func TestScore_DefaultWeighting(t *testing.T) {
	scorer := New()
	v := scorer.Score(Scores{
		DataQuality:      1.0,
		PriceReliability: 1.0,
		Freshness:        1.0,
		Coverage:         1.0,
	})
	if v.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", v.Confidence)
	}
	if v.Recommendation != domain.RecommendResolve {
		t.Errorf("expected RESOLVE, got %s", v.Recommendation)
	}

	// 0.30*0.9 + 0.30*0.8 + 0.20*0.5 + 0.20*1.0 = 0.81
	v = scorer.Score(Scores{
		DataQuality:      0.9,
		PriceReliability: 0.8,
		Freshness:        0.5,
		Coverage:         1.0,
	})
	if math.Abs(v.Confidence-0.81) > 1e-9 {
		t.Errorf("expected confidence 0.81, got %v", v.Confidence)
	}
	if v.Recommendation != domain.RecommendResolveFlagged {
		t.Errorf("expected RESOLVE_FLAGGED, got %s", v.Recommendation)
	}
}

func TestRecommendationBands(t *testing.T) {
	scorer := New()
	cases := []struct {
		confidence float64
		want       domain.Recommendation
	}{
		{1.00, domain.RecommendResolve},
		{0.90, domain.RecommendResolve}, // thresholds are inclusive lower bounds
		{0.899999, domain.RecommendResolveFlagged},
		{0.80, domain.RecommendResolveFlagged},
		{0.799999, domain.RecommendDelay},
		{0.60, domain.RecommendDelay},
		{0.599999, domain.RecommendCancel},
		{0.0, domain.RecommendCancel},
	}
	for _, tc := range cases {
		if got := scorer.recommend(tc.confidence); got != tc.want {
			t.Errorf("confidence %v: expected %s, got %s", tc.confidence, tc.want, got)
		}
	}
}

func TestScore_ClampsWildInputs(t *testing.T) {
	scorer := New()
	v := scorer.Score(Scores{
		DataQuality:      4.0,
		PriceReliability: -3.0,
		Freshness:        1.0,
		Coverage:         1.0,
	})
	if v.Confidence < 0 || v.Confidence > 1 {
		t.Fatalf("expected confidence in [0,1], got %v", v.Confidence)
	}
	// 0.30*1 + 0.30*0 + 0.20*1 + 0.20*1 = 0.70
	if math.Abs(v.Confidence-0.70) > 1e-9 {
		t.Errorf("expected 0.70 after clamping, got %v", v.Confidence)
	}
}

func TestScore_CustomWeightsNormalized(t *testing.T) {
	scorer := New(WithWeights(Weights{
		DataQuality:      2,
		PriceReliability: 1,
		Freshness:        1,
		Coverage:         0,
	}))
	// (2*0.9 + 1*0.6 + 1*0.8 + 0) / 4 = 0.80
	v := scorer.Score(Scores{
		DataQuality:      0.9,
		PriceReliability: 0.6,
		Freshness:        0.8,
		Coverage:         0.1,
	})
	if math.Abs(v.Confidence-0.80) > 1e-9 {
		t.Errorf("expected 0.80, got %v", v.Confidence)
	}
}

func TestScore_CustomThresholds(t *testing.T) {
	scorer := New(WithThresholds(Thresholds{Resolve: 0.95, Flag: 0.85, Delay: 0.50}))
	v := scorer.Score(Scores{DataQuality: 0.9, PriceReliability: 0.9, Freshness: 0.9, Coverage: 0.9})
	if v.Recommendation != domain.RecommendResolveFlagged {
		t.Errorf("expected RESOLVE_FLAGGED under a stricter resolve bar, got %s", v.Recommendation)
	}
}

func TestScore_ZeroWeightsCancel(t *testing.T) {
	scorer := New(WithWeights(Weights{}))
	v := scorer.Score(Scores{DataQuality: 1, PriceReliability: 1, Freshness: 1, Coverage: 1})
	if v.Confidence != 0 || v.Recommendation != domain.RecommendCancel {
		t.Errorf("expected a zero-weight scorer to cancel, got %v %s", v.Confidence, v.Recommendation)
	}
}
