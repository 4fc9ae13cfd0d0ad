package pricing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/gateway"
	"solana-metrics-oracle/internal/logging"
	"solana-metrics-oracle/internal/solana"
)

// Default weighting and guard thresholds.
const (
	DefaultMinLiquidityUSD        = 1_000
	DefaultFullWeightLiquidityUSD = 1_000_000
	DefaultTWAPWindow             = 10 * time.Minute
	DefaultTWAPMaxDeviation       = 0.20
	DefaultBootstrapMaxDivergence = 0.05
)

const (
	twapFallbackPenalty        = 0.5
	bootstrapDivergencePenalty = 0.5
	dustOnlyPenalty            = 0.25
	nativeCacheTTL             = 30 * time.Second
)

// Pricer derives USD prices for SPL mints from on-chain pool reserves.
// Stablecoins anchor at 1.0, the native mint bootstraps from its
// stablecoin pools, and everything else is a liquidity-weighted mean
// across pools quoted against a stablecoin or the native mint.
//
// Accepted spot prices feed a trailing TWAP per mint; a spot deviating
// from it beyond the configured bound is rejected and the TWAP is
// returned in its place. One Pricer covers one consensus run so the
// trailing window spans that run's measurements and nothing older.
type Pricer struct {
	reader  gateway.Reader
	logger  *zap.Logger
	layouts []PoolLayout
	stables map[string]struct{}
	native  string

	minLiquidityUSD        float64
	fullWeightLiquidityUSD float64
	twapWindow             time.Duration
	twapMaxDeviation       float64
	bootstrapMaxDivergence float64

	now  func() time.Time
	twap *twapTracker

	mu          sync.Mutex
	nativeCache *domain.PricePoint
	nativeAt    time.Time
}

// Option configures a Pricer.
type Option func(*Pricer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pricer) { p.logger = l }
}

// WithLayouts replaces the pool layouts to scan.
func WithLayouts(layouts ...PoolLayout) Option {
	return func(p *Pricer) { p.layouts = layouts }
}

// WithStablecoins replaces the set of mints anchored at $1.
func WithStablecoins(mints ...string) Option {
	return func(p *Pricer) {
		p.stables = make(map[string]struct{}, len(mints))
		for _, m := range mints {
			p.stables[m] = struct{}{}
		}
	}
}

// WithNativeMint sets the mint priced through the stablecoin bootstrap.
func WithNativeMint(mint string) Option {
	return func(p *Pricer) { p.native = mint }
}

// WithTiers sets the liquidity cutoffs: pools below min are excluded,
// pools above full stop gaining weight.
func WithTiers(minUSD, fullUSD float64) Option {
	return func(p *Pricer) {
		p.minLiquidityUSD = minUSD
		p.fullWeightLiquidityUSD = fullUSD
	}
}

// WithTWAP sets the trailing window and the spot deviation bound.
func WithTWAP(window time.Duration, maxDeviation float64) Option {
	return func(p *Pricer) {
		p.twapWindow = window
		p.twapMaxDeviation = maxDeviation
	}
}

// WithBootstrapDivergence sets the max spread between the native mint's
// stablecoin pools before the bootstrap downgrades to a geometric mean.
func WithBootstrapDivergence(max float64) Option {
	return func(p *Pricer) { p.bootstrapMaxDivergence = max }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pricer) { p.now = now }
}

// New builds a Pricer over the reader.
func New(reader gateway.Reader, opts ...Option) *Pricer {
	p := &Pricer{
		reader:                 reader,
		layouts:                []PoolLayout{StableswapLayout()},
		native:                 NativeMint,
		minLiquidityUSD:        DefaultMinLiquidityUSD,
		fullWeightLiquidityUSD: DefaultFullWeightLiquidityUSD,
		twapWindow:             DefaultTWAPWindow,
		twapMaxDeviation:       DefaultTWAPMaxDeviation,
		bootstrapMaxDivergence: DefaultBootstrapMaxDivergence,
		now:                    time.Now,
	}
	p.stables = map[string]struct{}{USDCMint: {}, USDTMint: {}}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrNop(p.logger)
	p.twap = newTWAPTracker(p.twapWindow, func() time.Time { return p.now() })
	return p
}

// candidate is one pool's vote: the price it implies for the target mint
// and the USD liquidity backing that vote. Reliability and flags come
// from how the counter side was priced.
type candidate struct {
	pool         *Pool
	price        float64
	liquidityUSD float64
	reliability  float64
	flags        []domain.Flag
}

// PriceOf prices one mint. It returns ErrPriceUnavailable when no pool
// can vote, and never caches results across calls apart from the short
// native bootstrap cache.
func (p *Pricer) PriceOf(ctx context.Context, mint string) (*domain.PricePoint, error) {
	if mint == "" {
		return nil, fmt.Errorf("%w: empty mint", domain.ErrInvalidRequest)
	}
	if _, ok := p.stables[mint]; ok {
		return &domain.PricePoint{Mint: mint, PriceUSD: 1, Reliability: 1, ObservedAt: p.now()}, nil
	}
	if mint == p.native {
		return p.nativeUSD(ctx)
	}

	pools, err := p.discoverPools(ctx, mint)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("mint %s: no pools found: %w", mint, domain.ErrPriceUnavailable)
	}
	decimals, err := p.fetchDecimals(ctx, poolMints(mint, pools))
	if err != nil {
		return nil, err
	}

	// The native leg is priced at most once per call, and only when some
	// pool actually quotes against it.
	var nativePoint *domain.PricePoint
	var nativeErr error
	nativeLoaded := false

	var cands []candidate
	for _, pool := range pools {
		counter := pool.Counter(mint)
		var counterPrice, counterRel float64
		var counterFlags []domain.Flag
		switch {
		case counter == mint:
			continue // degenerate self-pair
		case p.isStable(counter):
			counterPrice, counterRel = 1, 1
		case counter == p.native:
			if !nativeLoaded {
				nativePoint, nativeErr = p.nativeUSD(ctx)
				nativeLoaded = true
			}
			if nativeErr != nil {
				p.logger.Debug("skipping native-quoted pool",
					zap.String("pool", pool.Address),
					zap.Error(nativeErr))
				continue
			}
			counterPrice = nativePoint.PriceUSD
			counterRel = nativePoint.Reliability
			counterFlags = nativePoint.Flags
		default:
			continue // counter has no USD reference
		}
		if c, ok := evaluatePair(pool, mint, counter, counterPrice, counterRel, counterFlags, decimals); ok {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("mint %s: no priceable pools: %w", mint, domain.ErrPriceUnavailable)
	}

	var qualifying []candidate
	for _, c := range cands {
		if c.liquidityUSD >= p.minLiquidityUSD {
			qualifying = append(qualifying, c)
		}
	}
	dustOnly := len(qualifying) == 0
	if dustOnly {
		qualifying = cands
	}

	point := p.combine(mint, qualifying)
	if dustOnly {
		point.Reliability *= dustOnlyPenalty
		point.Flags = domain.MergeFlags(point.Flags, []domain.Flag{domain.FlagLowLiquidity})
		p.logger.Warn("all pools below liquidity floor",
			zap.String("mint", mint),
			zap.Float64("floor_usd", p.minLiquidityUSD),
			zap.Float64("liquidity_usd", point.LiquidityUSD))
	}
	return p.gate(point), nil
}

// nativeUSD bootstraps the native mint from its stablecoin pools. At
// least two qualifying pools are required; when they disagree beyond the
// divergence bound the price degrades to their geometric mean.
func (p *Pricer) nativeUSD(ctx context.Context) (*domain.PricePoint, error) {
	p.mu.Lock()
	if p.nativeCache != nil && p.now().Sub(p.nativeAt) < nativeCacheTTL {
		cached := *p.nativeCache
		p.mu.Unlock()
		return &cached, nil
	}
	p.mu.Unlock()

	pools, err := p.discoverPools(ctx, p.native)
	if err != nil {
		return nil, err
	}
	decimals, err := p.fetchDecimals(ctx, poolMints(p.native, pools))
	if err != nil {
		return nil, err
	}

	var cands []candidate
	for _, pool := range pools {
		counter := pool.Counter(p.native)
		if !p.isStable(counter) {
			continue
		}
		c, ok := evaluatePair(pool, p.native, counter, 1, 1, nil, decimals)
		if !ok || c.liquidityUSD < p.minLiquidityUSD {
			continue
		}
		cands = append(cands, c)
	}
	if len(cands) < 2 {
		return nil, fmt.Errorf("native mint %s: %d qualifying stablecoin pools, need 2: %w",
			p.native, len(cands), domain.ErrPriceUnavailable)
	}

	lo, hi := cands[0].price, cands[0].price
	for _, c := range cands[1:] {
		lo = math.Min(lo, c.price)
		hi = math.Max(hi, c.price)
	}

	point := p.combine(p.native, cands)
	if spread := (hi - lo) / lo; spread > p.bootstrapMaxDivergence {
		point.PriceUSD = geometricMean(cands)
		point.Reliability = bootstrapDivergencePenalty
		point.Flags = domain.MergeFlags(point.Flags, []domain.Flag{domain.FlagLowConfidence})
		p.logger.Warn("native bootstrap pools diverge",
			zap.Float64("low", lo),
			zap.Float64("high", hi),
			zap.Float64("spread", spread))
	}
	point = p.gate(point)

	p.mu.Lock()
	cached := *point
	p.nativeCache = &cached
	p.nativeAt = p.now()
	p.mu.Unlock()
	return point, nil
}

// combine folds candidates into one point using sqrt-of-liquidity
// weights capped at the full-weight tier.
func (p *Pricer) combine(mint string, cands []candidate) *domain.PricePoint {
	var sumW, sumWP, sumWR, sumLiq float64
	var flags []domain.Flag
	pools := make([]string, 0, len(cands))
	for _, c := range cands {
		w := math.Sqrt(math.Min(c.liquidityUSD, p.fullWeightLiquidityUSD))
		sumW += w
		sumWP += w * c.price
		sumWR += w * c.reliability
		sumLiq += c.liquidityUSD
		flags = domain.MergeFlags(flags, c.flags)
		pools = append(pools, c.pool.Address)
	}
	sort.Strings(pools)
	return &domain.PricePoint{
		Mint:         mint,
		PriceUSD:     sumWP / sumW,
		LiquidityUSD: sumLiq,
		Pools:        pools,
		Reliability:  sumWR / sumW,
		Flags:        flags,
		ObservedAt:   p.now(),
	}
}

// gate checks the spot against the trailing average. A spot within the
// bound is recorded and returned; one outside it is dropped and the
// average stands in, so a single manipulated print moves nothing.
func (p *Pricer) gate(point *domain.PricePoint) *domain.PricePoint {
	if tw, ok := p.twap.value(point.Mint); ok && tw > 0 {
		dev := math.Abs(point.PriceUSD-tw) / tw
		if dev > p.twapMaxDeviation {
			p.logger.Warn("spot rejected against trailing average",
				zap.String("mint", point.Mint),
				zap.Float64("spot", point.PriceUSD),
				zap.Float64("twap", tw),
				zap.Float64("deviation", dev))
			point.PriceUSD = tw
			point.TWAPFallback = true
			point.Reliability *= twapFallbackPenalty
			point.Flags = domain.MergeFlags(point.Flags, []domain.Flag{domain.FlagPriceDivergence})
			return point
		}
	}
	p.twap.observe(point.Mint, point.PriceUSD)
	return point
}

// discoverPools scans every layout for pools holding the mint on either
// side, then fills vault-backed reserves.
func (p *Pricer) discoverPools(ctx context.Context, mint string) ([]*Pool, error) {
	seen := make(map[string]struct{})
	var pools []*Pool
	for _, layout := range p.layouts {
		for _, off := range []int{layout.MintAOff, layout.MintBOff} {
			opts := &solana.ProgramAccountsOpts{
				DataSize: layout.Span,
				Memcmp: []solana.MemcmpFilter{
					{Offset: 0, Bytes: base58.Encode(layout.Discriminator)},
					{Offset: off, Bytes: mint},
				},
			}
			accounts, err := p.reader.ProgramAccounts(ctx, layout.Program, opts)
			if err != nil {
				return nil, fmt.Errorf("pool scan %s: %w", layout.Program, err)
			}
			for _, acc := range accounts {
				if _, dup := seen[acc.Pubkey]; dup {
					continue
				}
				data, err := acc.Account.Bytes()
				if err != nil {
					continue
				}
				pool, err := layout.Parse(acc.Pubkey, data)
				if err != nil {
					p.logger.Debug("pool account rejected", zap.String("pubkey", acc.Pubkey), zap.Error(err))
					continue
				}
				seen[acc.Pubkey] = struct{}{}
				pools = append(pools, pool)
			}
		}
	}
	if err := p.hydrateVaults(ctx, pools); err != nil {
		return nil, err
	}
	return pools, nil
}

// hydrateVaults fetches vault token accounts for vault-style pools and
// copies their amounts into the pool reserves. A pool whose vaults
// cannot be read keeps zero reserves and drops out during evaluation.
func (p *Pricer) hydrateVaults(ctx context.Context, pools []*Pool) error {
	var need []*Pool
	var addrs []string
	for _, pool := range pools {
		if pool.VaultA != "" && pool.VaultB != "" {
			need = append(need, pool)
			addrs = append(addrs, pool.VaultA, pool.VaultB)
		}
	}
	if len(need) == 0 {
		return nil
	}
	accounts, err := p.reader.FetchAccounts(ctx, addrs)
	if err != nil {
		return fmt.Errorf("pool vaults: %w", err)
	}
	amounts := make(map[string]uint64, len(addrs))
	for i, addr := range addrs {
		if accounts[i] == nil {
			continue
		}
		data, err := accounts[i].Bytes()
		if err != nil {
			continue
		}
		ta, err := solana.ParseTokenAccount(data)
		if err != nil {
			p.logger.Debug("vault rejected", zap.String("pubkey", addr), zap.Error(err))
			continue
		}
		amounts[addr] = ta.Amount
	}
	for _, pool := range need {
		a, okA := amounts[pool.VaultA]
		b, okB := amounts[pool.VaultB]
		if !okA || !okB {
			p.logger.Debug("pool missing vault balances", zap.String("pool", pool.Address))
			continue
		}
		pool.ReserveA, pool.ReserveB = a, b
	}
	return nil
}

// fetchDecimals resolves mint decimals in one batched read. Mints that
// are missing or unparseable are simply absent from the map.
func (p *Pricer) fetchDecimals(ctx context.Context, mints []string) (map[string]uint8, error) {
	accounts, err := p.reader.FetchAccounts(ctx, mints)
	if err != nil {
		return nil, fmt.Errorf("mint decimals: %w", err)
	}
	out := make(map[string]uint8, len(mints))
	for i, m := range mints {
		if accounts[i] == nil {
			continue
		}
		data, err := accounts[i].Bytes()
		if err != nil {
			continue
		}
		info, err := solana.ParseMint(data)
		if err != nil {
			p.logger.Debug("mint account rejected", zap.String("pubkey", m), zap.Error(err))
			continue
		}
		out[m] = info.Decimals
	}
	return out, nil
}

func (p *Pricer) isStable(mint string) bool {
	_, ok := p.stables[mint]
	return ok
}

// evaluatePair turns one pool into a candidate: the implied price of the
// target and twice the counter-side USD depth as liquidity. Pools with
// an empty side or unknown decimals produce nothing.
func evaluatePair(pool *Pool, target, counter string, counterPrice, counterRel float64, counterFlags []domain.Flag, decimals map[string]uint8) (candidate, bool) {
	dt, ok := decimals[target]
	if !ok {
		return candidate{}, false
	}
	dc, ok := decimals[counter]
	if !ok {
		return candidate{}, false
	}
	rawT := pool.ReserveOf(target)
	rawC := pool.ReserveOf(counter)
	if rawT == 0 || rawC == 0 {
		return candidate{}, false
	}
	uiT := float64(rawT) / math.Pow10(int(dt))
	uiC := float64(rawC) / math.Pow10(int(dc))
	return candidate{
		pool:         pool,
		price:        uiC * counterPrice / uiT,
		liquidityUSD: 2 * uiC * counterPrice,
		reliability:  counterRel,
		flags:        counterFlags,
	}, true
}

// poolMints returns the sorted mint set touched by the pools plus the target.
func poolMints(target string, pools []*Pool) []string {
	set := map[string]struct{}{target: {}}
	for _, pool := range pools {
		set[pool.MintA] = struct{}{}
		set[pool.MintB] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func geometricMean(cands []candidate) float64 {
	var sum float64
	for _, c := range cands {
		sum += math.Log(c.price)
	}
	return math.Exp(sum / float64(len(cands)))
}
