package estimate

import (
	"context"
	"fmt"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/solana"
)

// Price measures the USD price of the protocol's primary mint.
func (e *Engine) Price(ctx context.Context, desc domain.ProtocolDescriptor) (*domain.Measurement, error) {
	if desc.PrimaryMint == "" {
		return nil, fmt.Errorf("protocol %q: no primary mint: %w",
			desc.ProtocolID, domain.ErrDataUnavailable)
	}
	slot := e.observeSlot(ctx)

	point, err := e.prices.PriceOf(ctx, desc.PrimaryMint)
	if err != nil {
		return nil, err
	}
	return &domain.Measurement{
		Value:            point.PriceUSD,
		Slot:             slot,
		TakenAt:          e.now(),
		Coverage:         1.0,
		DataQuality:      1.0,
		PriceReliability: clamp01(point.Reliability),
		Flags:            point.Flags,
	}, nil
}

// MarketCap measures circulating supply times the primary mint's USD price.
func (e *Engine) MarketCap(ctx context.Context, desc domain.ProtocolDescriptor) (*domain.Measurement, error) {
	if desc.PrimaryMint == "" {
		return nil, fmt.Errorf("protocol %q: no primary mint: %w",
			desc.ProtocolID, domain.ErrDataUnavailable)
	}
	slot := e.observeSlot(ctx)

	accounts, err := e.reader.FetchAccounts(ctx, []string{desc.PrimaryMint})
	if err != nil {
		return nil, fmt.Errorf("primary mint fetch: %w", err)
	}
	if len(accounts) == 0 || accounts[0] == nil {
		return nil, fmt.Errorf("protocol %q: primary mint %s missing: %w",
			desc.ProtocolID, desc.PrimaryMint, domain.ErrDataUnavailable)
	}
	data, err := accounts[0].Bytes()
	if err != nil {
		return nil, fmt.Errorf("primary mint decode: %w", err)
	}
	info, err := solana.ParseMint(data)
	if err != nil {
		return nil, fmt.Errorf("primary mint parse: %w", err)
	}

	point, err := e.prices.PriceOf(ctx, desc.PrimaryMint)
	if err != nil {
		return nil, err
	}

	supply := uiAmount(info.Supply, info.Decimals)
	return &domain.Measurement{
		Value:            supply * point.PriceUSD,
		Slot:             slot,
		TakenAt:          e.now(),
		Coverage:         1.0,
		DataQuality:      1.0,
		PriceReliability: clamp01(point.Reliability),
		Flags:            point.Flags,
	}, nil
}
