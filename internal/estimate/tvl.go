package estimate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/solana"
)

// TVL sums the USD value of a protocol's vaults at the current state.
// A vault that cannot be normalized or priced is excluded from the sum
// and charged against coverage; it is never counted as zero value.
func (e *Engine) TVL(ctx context.Context, desc domain.ProtocolDescriptor) (*domain.Measurement, error) {
	slot := e.observeSlot(ctx)

	set, err := e.vaults.ResolveVaults(ctx, desc)
	if err != nil {
		return nil, err
	}

	decimals, err := e.mintDecimals(ctx, set.Mints())
	if err != nil {
		return nil, err
	}

	// One price per mint; a mint without a price excludes its vaults.
	points := make(map[string]*domain.PricePoint, len(decimals))
	for _, mint := range set.Mints() {
		point, err := e.prices.PriceOf(ctx, mint)
		if err != nil {
			if errors.Is(err, domain.ErrPriceUnavailable) {
				e.logger.Warn("vault mint unpriceable",
					zap.String("protocol", desc.ProtocolID),
					zap.String("mint", mint))
				continue
			}
			return nil, err
		}
		points[mint] = point
	}

	var total float64
	var flags []domain.Flag
	var relNum, relDen, relSum float64
	contributing := 0
	for _, vault := range set.Vaults {
		dec, ok := decimals[vault.Mint]
		if !ok {
			continue
		}
		point, ok := points[vault.Mint]
		if !ok {
			continue
		}
		vault.Decimals = dec
		value := vault.UIBalance() * point.PriceUSD
		total += value
		contributing++
		relNum += value * point.Reliability
		relDen += value
		relSum += point.Reliability
		flags = domain.MergeFlags(flags, point.Flags)
	}
	if contributing == 0 {
		return nil, fmt.Errorf("protocol %q: no vault could be valued: %w",
			desc.ProtocolID, domain.ErrDataUnavailable)
	}

	reliability := 1.0
	if relDen > 0 {
		reliability = relNum / relDen
	} else if contributing > 0 {
		// All vaults empty: reliability of the prices we would have used.
		reliability = relSum / float64(contributing)
	}

	coverage := set.Coverage()
	if set.Requested > 0 {
		coverage *= float64(contributing) / float64(set.Requested)
	}

	return &domain.Measurement{
		Value:            total,
		Slot:             slot,
		TakenAt:          e.now(),
		Coverage:         clamp01(coverage),
		DataQuality:      1.0,
		PriceReliability: clamp01(reliability),
		Flags:            flags,
	}, nil
}

// mintDecimals batch-reads mint accounts and returns decimals for the ones
// that parse. Missing mints are absent, not zero.
func (e *Engine) mintDecimals(ctx context.Context, mints []string) (map[string]uint8, error) {
	if len(mints) == 0 {
		return map[string]uint8{}, nil
	}
	accounts, err := e.reader.FetchAccounts(ctx, mints)
	if err != nil {
		return nil, fmt.Errorf("mint accounts: %w", err)
	}
	out := make(map[string]uint8, len(mints))
	for i, mint := range mints {
		if accounts[i] == nil {
			continue
		}
		data, err := accounts[i].Bytes()
		if err != nil {
			continue
		}
		info, err := solana.ParseMint(data)
		if err != nil {
			e.logger.Debug("mint account rejected", zap.String("mint", mint), zap.Error(err))
			continue
		}
		out[mint] = info.Decimals
	}
	return out, nil
}

// uiAmount converts raw base units with the mint's decimal count.
func uiAmount(raw uint64, decimals uint8) float64 {
	return float64(raw) / math.Pow10(int(decimals))
}
