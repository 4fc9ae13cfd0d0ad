package domain

import "time"

// PricePoint is the aggregator's answer for one mint. Recomputed on every
// query; never cached across requests.
type PricePoint struct {
	Mint         string
	PriceUSD     float64
	LiquidityUSD float64  // summed across qualifying pools
	Pools        []string // pool addresses that contributed
	// Reliability in [0,1]: 1.0 when all weight comes from deep pools and no
	// fallback fired, reduced by thin liquidity, divergence, or TWAP fallback.
	Reliability  float64
	TWAPFallback bool // spot rejected, trailing average substituted
	Flags        []Flag
	ObservedAt   time.Time
}
