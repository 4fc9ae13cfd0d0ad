package estimate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/solana"
)

// zCritical95 is the two-sided 95% normal quantile.
const zCritical95 = 1.96

// Volume estimates the USD value traded through the protocol's vaults over
// [start, end). The window is split into equal buckets; each bucket keeps a
// seeded reservoir of at most bucketSample successful signatures, so the
// same window and seed always sample the same transactions. Total
// transaction count is extrapolated from the two boundary buckets, and the
// sample mean scales up to the estimate with a CLT confidence interval.
func (e *Engine) Volume(ctx context.Context, desc domain.ProtocolDescriptor, start, end time.Time) (*domain.Measurement, error) {
	slot := e.observeSlot(ctx)

	set, err := e.vaults.ResolveVaults(ctx, desc)
	if err != nil {
		return nil, err
	}
	vaultAddrs := make(map[string]struct{}, len(set.Vaults))
	for _, v := range set.Vaults {
		vaultAddrs[v.Address] = struct{}{}
	}

	span := end.Sub(start)
	counts := make([]int, e.buckets)
	samples := make([][]string, e.buckets)
	rng := rand.New(rand.NewSource(e.sampleSeed(start, end)))
	oldest := end

	complete, err := e.walkWindow(ctx, desc.ProgramID, start, end, func(sig string, at time.Time, failed bool) {
		if at.Before(oldest) {
			oldest = at
		}
		if failed {
			return // failed transactions join neither sum nor count
		}
		idx := bucketIndex(at, start, span, e.buckets)
		counts[idx]++
		if len(samples[idx]) < e.bucketSample {
			samples[idx] = append(samples[idx], sig)
			return
		}
		if j := rng.Intn(counts[idx]); j < e.bucketSample {
			samples[idx][j] = sig
		}
	})
	if err != nil {
		return nil, err
	}

	var sampled []string
	for _, res := range samples {
		sampled = append(sampled, res...)
	}
	if len(sampled) < e.minSample {
		return nil, fmt.Errorf("volume: sampled %d transactions, need %d: %w",
			len(sampled), e.minSample, domain.ErrInsufficientSample)
	}

	txs := e.fetchTransactions(ctx, sampled)

	points, err := e.priceFlowMints(ctx, txs, vaultAddrs)
	if err != nil {
		return nil, err
	}

	var values []float64
	var flags []domain.Flag
	var relNum, relDen float64
	misses, excluded := 0, 0
	for _, tx := range txs {
		switch {
		case tx == nil:
			misses++
			continue
		case tx.Failed():
			excluded++
			continue
		}
		flows := vaultFlows(tx, vaultAddrs)
		if len(flows) == 0 {
			values = append(values, 0)
			continue
		}
		best := -1.0
		bestMint := ""
		for _, mint := range sortedKeys(flows) {
			point, ok := points[mint]
			if !ok {
				continue
			}
			usd := math.Abs(flows[mint]) * point.PriceUSD
			if usd > best {
				best = usd
				bestMint = mint
			}
		}
		if best < 0 {
			misses++ // flows present but no mint priceable
			continue
		}
		point := points[bestMint]
		values = append(values, best)
		relNum += best * point.Reliability
		relDen += best
		flags = domain.MergeFlags(flags, point.Flags)
	}

	n := len(values)
	if n < e.minSample {
		return nil, fmt.Errorf("volume: %d usable samples of %d fetched, need %d: %w",
			n, len(sampled), e.minSample, domain.ErrInsufficientSample)
	}

	// Boundary-density extrapolation across the full window.
	estimatedTotal := (float64(counts[0]) + float64(counts[e.buckets-1])) / 2 * float64(e.buckets)

	m := mean(values)
	sd := sampleStddev(values, m)
	estimate := m * estimatedTotal
	half := zCritical95 * sd / math.Sqrt(float64(n)) * estimatedTotal

	quality := 0.0
	switch {
	case estimate > 0:
		quality = clamp01(1 - half/estimate)
	case half == 0:
		quality = 1.0
	}

	denom := len(sampled) - excluded
	fetchCoverage := 1.0
	if denom > 0 {
		fetchCoverage = float64(n) / float64(denom)
	}
	coverage := fetchCoverage * set.Coverage()
	if !complete && span > 0 {
		coverage *= clamp01(float64(end.Sub(oldest)) / float64(span))
	}

	reliability := 1.0
	if relDen > 0 {
		reliability = relNum / relDen
	}

	e.logger.Debug("volume pass",
		zap.String("protocol", desc.ProtocolID),
		zap.Int("sampled", len(sampled)),
		zap.Int("usable", n),
		zap.Float64("estimated_total_txs", estimatedTotal),
		zap.Float64("estimate_usd", estimate))

	low := estimate - half
	if low < 0 {
		low = 0
	}
	return &domain.Measurement{
		Value:            estimate,
		Slot:             slot,
		TakenAt:          e.now(),
		Coverage:         clamp01(coverage),
		DataQuality:      quality,
		PriceReliability: clamp01(reliability),
		IntervalLow:      low,
		IntervalHigh:     estimate + half,
		Flags:            flags,
	}, nil
}

// sampleSeed derives the reservoir seed: fixed when configured, otherwise
// bound to the window so re-sampling the same window is deterministic.
func (e *Engine) sampleSeed(start, end time.Time) int64 {
	if e.seed != 0 {
		return e.seed
	}
	return start.Unix()*1_000_003 ^ end.Unix()
}

func bucketIndex(at, start time.Time, span time.Duration, buckets int) int {
	if span <= 0 {
		return 0
	}
	idx := int(int64(buckets) * int64(at.Sub(start)) / int64(span))
	if idx < 0 {
		idx = 0
	}
	if idx >= buckets {
		idx = buckets - 1
	}
	return idx
}

// fetchTransactions resolves signatures with bounded fan-out, keeping
// request order. Entries are nil when the fetch failed or the node no
// longer has the transaction.
func (e *Engine) fetchTransactions(ctx context.Context, sigs []string) []*solana.Transaction {
	out := make([]*solana.Transaction, len(sigs))
	sem := make(chan struct{}, e.fanout)
	var wg sync.WaitGroup
	for i, sig := range sigs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sig string) {
			defer wg.Done()
			defer func() { <-sem }()
			tx, err := e.reader.Transaction(ctx, sig)
			if err != nil {
				e.logger.Debug("transaction fetch failed",
					zap.String("signature", sig), zap.Error(err))
				return
			}
			out[i] = tx
		}(i, sig)
	}
	wg.Wait()
	return out
}

// priceFlowMints prices every mint that moved through the vaults in the
// sampled transactions. Unpriceable mints are absent from the result.
func (e *Engine) priceFlowMints(ctx context.Context, txs []*solana.Transaction, vaults map[string]struct{}) (map[string]*domain.PricePoint, error) {
	mintSet := make(map[string]struct{})
	for _, tx := range txs {
		if tx == nil || tx.Failed() {
			continue
		}
		for mint := range vaultFlows(tx, vaults) {
			mintSet[mint] = struct{}{}
		}
	}
	points := make(map[string]*domain.PricePoint, len(mintSet))
	for _, mint := range sortedKeys(mintSet) {
		point, err := e.prices.PriceOf(ctx, mint)
		if err != nil {
			if errors.Is(err, domain.ErrPriceUnavailable) {
				e.logger.Warn("flow mint unpriceable", zap.String("mint", mint))
				continue
			}
			return nil, err
		}
		points[mint] = point
	}
	return points, nil
}

// vaultFlows nets each mint's movement across the protocol's vaults in one
// transaction, in UI units. Only the net outer movement counts: inner
// routed legs through the same vault cancel or collapse into it.
func vaultFlows(tx *solana.Transaction, vaults map[string]struct{}) map[string]float64 {
	if tx.Meta == nil || tx.Message == nil {
		return nil
	}
	flows := make(map[string]float64)
	add := func(tb solana.TokenBalance, sign float64) {
		if tb.AccountIndex < 0 || tb.AccountIndex >= len(tx.Message.AccountKeys) {
			return
		}
		if _, ok := vaults[tx.Message.AccountKeys[tb.AccountIndex]]; !ok {
			return
		}
		flows[tb.Mint] += sign * uiAmount(tb.Amount, tb.Decimals)
	}
	for _, tb := range tx.Meta.PostTokenBalances {
		add(tb, 1)
	}
	for _, tb := range tx.Meta.PreTokenBalances {
		add(tb, -1)
	}
	for mint, f := range flows {
		if math.Abs(f) < 1e-12 {
			delete(flows, mint)
		}
	}
	return flows
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
