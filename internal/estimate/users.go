package estimate

import (
	"context"
	"fmt"
	"time"

	"github.com/axiomhq/hyperloglog"

	"solana-metrics-oracle/internal/domain"
)

// usersFetchBatch is how many signatures accumulate before their
// transactions are fetched, keeping memory flat over any window size.
const usersFetchBatch = 256

// Users estimates distinct fee payers over [start, end). Fee payers stream
// into a 2^14-register HyperLogLog sketch, so memory stays constant no
// matter how active the window was. Failed transactions still count: their
// fee payer interacted with the protocol and paid for it.
func (e *Engine) Users(ctx context.Context, desc domain.ProtocolDescriptor, start, end time.Time) (*domain.Measurement, error) {
	slot := e.observeSlot(ctx)

	sketch := hyperloglog.New14()
	listed, inserted := 0, 0
	oldest := end
	batch := make([]string, 0, usersFetchBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		listed += len(batch)
		for _, tx := range e.fetchTransactions(ctx, batch) {
			if tx == nil {
				continue
			}
			payer := tx.FeePayer()
			if payer == "" {
				continue
			}
			sketch.Insert([]byte(payer))
			inserted++
		}
		batch = batch[:0]
	}

	complete, err := e.walkWindow(ctx, desc.ProgramID, start, end, func(sig string, at time.Time, failed bool) {
		if at.Before(oldest) {
			oldest = at
		}
		batch = append(batch, sig)
		if len(batch) >= usersFetchBatch {
			flush()
		}
	})
	if err != nil {
		return nil, err
	}
	flush()

	span := end.Sub(start)
	spanCoverage := 1.0
	if !complete && span > 0 {
		spanCoverage = clamp01(float64(end.Sub(oldest)) / float64(span))
	}

	if listed == 0 {
		// A quiet window is a legitimate zero, not missing data.
		return &domain.Measurement{
			Value:            0,
			Slot:             slot,
			TakenAt:          e.now(),
			Coverage:         spanCoverage,
			DataQuality:      1.0,
			PriceReliability: 1.0,
		}, nil
	}
	if inserted == 0 {
		return nil, fmt.Errorf("users: none of %d transactions fetched: %w",
			listed, domain.ErrDataUnavailable)
	}

	estimate := float64(sketch.Estimate())
	fetchCoverage := float64(inserted) / float64(listed)
	half := zCritical95 * hllStdError * estimate

	low := estimate - half
	if low < 0 {
		low = 0
	}
	return &domain.Measurement{
		Value:            estimate,
		Slot:             slot,
		TakenAt:          e.now(),
		Coverage:         clamp01(fetchCoverage * spanCoverage),
		DataQuality:      clamp01(1-3*hllStdError) * fetchCoverage,
		PriceReliability: 1.0,
		IntervalLow:      low,
		IntervalHigh:     estimate + half,
	}, nil
}
