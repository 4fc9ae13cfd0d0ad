package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MetricKind identifies what an oracle request measures.
type MetricKind string

// Metric kind constants
const (
	MetricTVL          MetricKind = "TVL"
	MetricVolume       MetricKind = "VOLUME"
	MetricUsers        MetricKind = "USERS"
	MetricTransactions MetricKind = "TRANSACTIONS"
	MetricPrice        MetricKind = "PRICE"
	MetricMarketCap    MetricKind = "MARKET_CAP"
)

// windowed reports whether the kind measures activity over a time window
// rather than state at a single instant.
func (k MetricKind) windowed() bool {
	switch k {
	case MetricVolume, MetricUsers, MetricTransactions:
		return true
	}
	return false
}

// MetricRequest is a single oracle query. Immutable once issued: the
// pipeline never mutates it and holds no reference past resolution.
type MetricRequest struct {
	ID         uuid.UUID  // assigned at intake
	ProtocolID string     // registry key
	Kind       MetricKind // what to measure
	// Half-open interval [WindowStart, WindowEnd) for windowed kinds.
	WindowStart time.Time
	WindowEnd   time.Time
	// TargetTime for instant kinds (TVL, PRICE, MARKET_CAP). Zero means now.
	TargetTime time.Time
	// Deadline bounds the whole resolution including repeat measurements.
	// Zero means no deadline.
	Deadline time.Time
}

// Validate checks structural soundness before any RPC is spent.
func (r *MetricRequest) Validate() error {
	if r.ProtocolID == "" {
		return fmt.Errorf("metric request: %w: empty protocol id", ErrInvalidRequest)
	}
	switch r.Kind {
	case MetricTVL, MetricVolume, MetricUsers, MetricTransactions, MetricPrice, MetricMarketCap:
	default:
		return fmt.Errorf("metric request: %w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	if r.Kind.windowed() {
		if r.WindowStart.IsZero() || r.WindowEnd.IsZero() {
			return fmt.Errorf("metric request: %w: %s requires a time window", ErrInvalidRequest, r.Kind)
		}
		if !r.WindowStart.Before(r.WindowEnd) {
			return fmt.Errorf("metric request: %w: window start %s not before end %s",
				ErrInvalidRequest, r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339))
		}
	}
	if !r.Deadline.IsZero() && r.Deadline.Before(time.Now()) {
		return fmt.Errorf("metric request: %w: deadline already passed", ErrInvalidRequest)
	}
	return nil
}

// Windowed reports whether this request carries a measurement window.
func (r *MetricRequest) Windowed() bool {
	return r.Kind.windowed()
}
