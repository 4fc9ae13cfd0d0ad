package domain

import (
	"time"

	"github.com/google/uuid"
)

// Recommendation is the action the confidence score maps to.
type Recommendation string

// Recommendation constants
const (
	RecommendResolve        Recommendation = "RESOLVE"
	RecommendResolveFlagged Recommendation = "RESOLVE_FLAGGED"
	RecommendDelay          Recommendation = "DELAY"
	RecommendCancel         Recommendation = "CANCEL"
)

// ConsensusResult is the oracle's terminal answer for one request.
// Every failure mode is encoded here; resolution never errors out-of-band.
type ConsensusResult struct {
	RequestID      uuid.UUID
	ProtocolID     string
	Kind           MetricKind
	Value          float64 // >= 0
	Confidence     float64 // in [0,1]
	Recommendation Recommendation
	Flags          []Flag
	Measurements   int // passes that survived outlier filtering
	ResolvedAt     time.Time
}

// Degraded builds the terminal result returned while the circuit breaker
// refuses work: zero value, zero confidence, single ORACLE_DEGRADED flag.
func Degraded(req *MetricRequest) ConsensusResult {
	return ConsensusResult{
		RequestID:      req.ID,
		ProtocolID:     req.ProtocolID,
		Kind:           req.Kind,
		Value:          0,
		Confidence:     0,
		Recommendation: RecommendCancel,
		Flags:          []Flag{FlagOracleDegraded},
		ResolvedAt:     time.Now().UTC(),
	}
}

// Unresolvable builds the terminal result for a request that failed before
// any measurement could complete (bad request, no data at all).
func Unresolvable(req *MetricRequest, flags ...Flag) ConsensusResult {
	return ConsensusResult{
		RequestID:      req.ID,
		ProtocolID:     req.ProtocolID,
		Kind:           req.Kind,
		Value:          0,
		Confidence:     0,
		Recommendation: RecommendCancel,
		Flags:          flags,
		ResolvedAt:     time.Now().UTC(),
	}
}
