package domain

import "time"

// Measurement is one estimator pass over the chain. The consensus engine
// collects several of these and reduces them to a single result.
type Measurement struct {
	Value   float64 // estimated metric value, >= 0
	Slot    uint64  // chain slot observed when the pass started
	TakenAt time.Time

	// Sub-scores in [0,1] feeding the confidence composite.
	Coverage         float64 // share of required accounts actually read
	DataQuality      float64 // sampling precision of the estimate
	PriceReliability float64 // quality of USD conversion, 1.0 when none used

	// 95% interval for sampled estimates; both zero when the estimate is exact.
	IntervalLow  float64
	IntervalHigh float64

	Flags []Flag
}

// Exact reports whether the measurement carries no sampling interval.
func (m *Measurement) Exact() bool {
	return m.IntervalLow == 0 && m.IntervalHigh == 0
}
