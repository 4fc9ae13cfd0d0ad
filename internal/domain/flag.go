package domain

// Flag marks a condition that affected a measurement or a final result.
// Flags accumulate; they are never cleared once attached.
type Flag string

// Result flag constants
const (
	FlagStale              Flag = "STALE"
	FlagLowLiquidity       Flag = "LOW_LIQUIDITY"
	FlagPriceDivergence    Flag = "PRICE_DIVERGENCE"
	FlagDataUnavailable    Flag = "DATA_UNAVAILABLE"
	FlagInsufficientSample Flag = "INSUFFICIENT_SAMPLE"
	FlagLowConfidence      Flag = "LOW_CONFIDENCE"
	FlagOracleDegraded     Flag = "ORACLE_DEGRADED"
)

// MergeFlags returns the union of two flag sets, preserving first-seen order.
func MergeFlags(a, b []Flag) []Flag {
	if len(b) == 0 {
		return a
	}
	seen := make(map[Flag]struct{}, len(a)+len(b))
	out := make([]Flag, 0, len(a)+len(b))
	for _, f := range a {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	for _, f := range b {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// HasFlag reports whether fs contains f.
func HasFlag(fs []Flag, f Flag) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}
