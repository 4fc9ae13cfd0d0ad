// Package journal persists resolved requests and their raw measurement
// passes for dispute forensics. The pipeline only ever writes here;
// nothing in the measurement path reads a journal entry back into a
// decision.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"solana-metrics-oracle/internal/domain"
)

// ResolutionRecord is one terminal answer as handed to the settlement
// collaborator.
type ResolutionRecord struct {
	RequestID      uuid.UUID
	ProtocolID     string
	Kind           domain.MetricKind
	WindowStart    time.Time // zero for instant kinds
	WindowEnd      time.Time
	Value          float64
	Confidence     float64
	Recommendation domain.Recommendation
	Flags          []domain.Flag
	Measurements   int // surviving passes behind the value
	ResolvedAt     time.Time
}

// MeasurementRecord is one estimator pass, journaled whether or not it
// survived outlier filtering.
type MeasurementRecord struct {
	RequestID        uuid.UUID
	ProtocolID       string
	Kind             domain.MetricKind
	Pass             int
	Value            float64
	Slot             uint64
	Coverage         float64
	DataQuality      float64
	PriceReliability float64
	IntervalLow      float64
	IntervalHigh     float64
	Flags            []domain.Flag
	TakenAt          time.Time
}

// ResolutionStore journals terminal results.
type ResolutionStore interface {
	Insert(ctx context.Context, rec *ResolutionRecord) error
}

// MeasurementStore journals raw passes in batches.
type MeasurementStore interface {
	InsertBatch(ctx context.Context, recs []*MeasurementRecord) error
}

// FlagStrings converts flags for storage drivers that speak string arrays.
func FlagStrings(flags []domain.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

// ParseFlags is the inverse of FlagStrings.
func ParseFlags(raw []string) []domain.Flag {
	out := make([]domain.Flag, len(raw))
	for i, s := range raw {
		out[i] = domain.Flag(s)
	}
	return out
}
