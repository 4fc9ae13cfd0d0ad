package consensus

import (
	"math"
	"sort"

	"solana-metrics-oracle/internal/domain"
)

// filterOutliers keeps measurements whose value lies within sigma sample
// standard deviations of the median. A zero spread keeps everything.
func filterOutliers(collected []*domain.Measurement, sigma float64) []*domain.Measurement {
	if len(collected) == 0 {
		return nil
	}
	vals := values(collected)
	med := computeMedian(vals)
	sd := computeStddev(vals, computeMean(vals))
	if sd == 0 {
		return collected
	}
	bound := sigma * sd
	kept := make([]*domain.Measurement, 0, len(collected))
	for _, m := range collected {
		if math.Abs(m.Value-med) <= bound {
			kept = append(kept, m)
		}
	}
	return kept
}

// spreadFreshness scores how tightly the filtered values agree:
// 1 - 2*(stddev/|median|), floored at zero. Perfect agreement on zero
// scores 1; disagreement around a zero median scores 0.
func spreadFreshness(vals []float64) float64 {
	med := computeMedian(vals)
	sd := computeStddev(vals, computeMean(vals))
	if med == 0 {
		if sd == 0 {
			return 1
		}
		return 0
	}
	f := 1 - 2*(sd/math.Abs(med))
	if f < 0 {
		return 0
	}
	return f
}

func values(ms []*domain.Measurement) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.Value
	}
	return out
}

func medianValue(ms []*domain.Measurement) float64 {
	return computeMedian(values(ms))
}

func meanOf(ms []*domain.Measurement, pick func(*domain.Measurement) float64) float64 {
	if len(ms) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range ms {
		sum += pick(m)
	}
	return sum / float64(len(ms))
}

// computeMedian returns the middle value, averaging the central pair for
// even counts.
func computeMedian(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func computeMean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// computeStddev is the sample standard deviation (n-1 denominator).
func computeStddev(vals []float64, mean float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range vals {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}
