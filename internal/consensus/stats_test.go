package consensus

import (
	"math"
	"testing"

	"solana-metrics-oracle/internal/domain"
)

func measurements(vals ...float64) []*domain.Measurement {
	out := make([]*domain.Measurement, len(vals))
	for i, v := range vals {
		out[i] = &domain.Measurement{Value: v}
	}
	return out
}

func TestComputeMedian(t *testing.T) {
	cases := []struct {
		name string
		vals []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{7}, 7},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := computeMedian(tc.vals); math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestComputeStddev(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := computeStddev(vals, computeMean(vals))
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %v, got %v", want, got)
	}
	if computeStddev([]float64{5}, 5) != 0 {
		t.Error("expected 0 for a single sample")
	}
}

func TestFilterOutliers(t *testing.T) {
	kept := filterOutliers(measurements(100, 101, 102, 103, 200), 2.0)
	if len(kept) != 4 {
		t.Fatalf("expected the 200 outlier dropped, kept %d", len(kept))
	}
	for _, m := range kept {
		if m.Value == 200 {
			t.Error("expected 200 to be filtered out")
		}
	}

	all := filterOutliers(measurements(5, 5, 5), 2.0)
	if len(all) != 3 {
		t.Errorf("expected zero spread to keep everything, kept %d", len(all))
	}

	if filterOutliers(nil, 2.0) != nil {
		t.Error("expected nil for no measurements")
	}
}

func TestSpreadFreshness(t *testing.T) {
	if got := spreadFreshness([]float64{10, 10, 10}); got != 1.0 {
		t.Errorf("expected 1.0 for perfect agreement, got %v", got)
	}
	if got := spreadFreshness([]float64{0, 0, 0}); got != 1.0 {
		t.Errorf("expected 1.0 for agreement on zero, got %v", got)
	}
	if got := spreadFreshness([]float64{0, 0, 12}); got != 0 {
		t.Errorf("expected 0 around a zero median, got %v", got)
	}
	// stddev 10 around median 10 floors at zero.
	if got := spreadFreshness([]float64{0, 10, 20}); got != 0 {
		t.Errorf("expected wide spread to floor at 0, got %v", got)
	}
	// stddev 1 around median 10: 1 - 2*(1/10) = 0.8.
	if got := spreadFreshness([]float64{9, 10, 11}); math.Abs(got-0.8) > 1e-12 {
		t.Errorf("expected 0.8, got %v", got)
	}
}
