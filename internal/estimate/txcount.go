package estimate

import (
	"context"
	"time"

	"solana-metrics-oracle/internal/domain"
)

// TxCount counts successful protocol transactions over [start, end) from
// the signature listing alone; no transaction bodies are fetched. The
// count is exact for the covered span.
func (e *Engine) TxCount(ctx context.Context, desc domain.ProtocolDescriptor, start, end time.Time) (*domain.Measurement, error) {
	slot := e.observeSlot(ctx)

	count := 0
	oldest := end
	complete, err := e.walkWindow(ctx, desc.ProgramID, start, end, func(sig string, at time.Time, failed bool) {
		if at.Before(oldest) {
			oldest = at
		}
		if failed {
			return
		}
		count++
	})
	if err != nil {
		return nil, err
	}

	span := end.Sub(start)
	coverage := 1.0
	if !complete && span > 0 {
		coverage = clamp01(float64(end.Sub(oldest)) / float64(span))
	}

	return &domain.Measurement{
		Value:            float64(count),
		Slot:             slot,
		TakenAt:          e.now(),
		Coverage:         coverage,
		DataQuality:      1.0,
		PriceReliability: 1.0,
	}, nil
}
