// Package estimate turns resolved protocol state into metric measurements:
// instant reads for TVL, PRICE and MARKET_CAP, sampled window estimates for
// VOLUME, USERS and TRANSACTIONS. Estimators swallow per-account and
// per-transaction failures into the measurement's coverage; they only
// return an error when nothing measurable remains.
package estimate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/gateway"
	"solana-metrics-oracle/internal/logging"
	"solana-metrics-oracle/internal/resolver"
	"solana-metrics-oracle/internal/solana"
)

// Sampling defaults.
const (
	DefaultBuckets      = 24
	DefaultBucketSample = 100
	DefaultMinSample    = 30
	DefaultFanout       = 8
	DefaultMaxPages     = 20
	DefaultPageLimit    = 1000 // node-side cap for getSignaturesForAddress

	// Relative standard error of a 2^14-register HyperLogLog sketch.
	hllStdError = 0.0081
)

// PriceSource prices a mint in USD. Satisfied by pricing.Pricer.
type PriceSource interface {
	PriceOf(ctx context.Context, mint string) (*domain.PricePoint, error)
}

// VaultSource locates a protocol's vaults. Satisfied by resolver.Resolver.
type VaultSource interface {
	ResolveVaults(ctx context.Context, desc domain.ProtocolDescriptor) (*resolver.VaultSet, error)
}

// Engine runs one estimator pass per call. A pass re-resolves vaults and
// re-reads chain state so repeated passes observe real drift; nothing is
// cached across calls.
type Engine struct {
	reader   gateway.Reader
	registry *resolver.Registry
	vaults   VaultSource
	prices   PriceSource
	logger   *zap.Logger

	buckets      int
	bucketSample int
	minSample    int
	fanout       int
	maxPages     int
	pageLimit    int
	seed         int64

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBuckets sets the volume bucket count.
func WithBuckets(n int) Option {
	return func(e *Engine) { e.buckets = n }
}

// WithBucketSample caps the per-bucket transaction sample.
func WithBucketSample(n int) Option {
	return func(e *Engine) { e.bucketSample = n }
}

// WithMinSample sets the minimum viable sample size for volume.
func WithMinSample(n int) Option {
	return func(e *Engine) { e.minSample = n }
}

// WithFanout bounds concurrent transaction fetches within one pass.
func WithFanout(n int) Option {
	return func(e *Engine) { e.fanout = n }
}

// WithMaxPages bounds the signature walk per pass.
func WithMaxPages(n int) Option {
	return func(e *Engine) { e.maxPages = n }
}

// WithPageLimit sets signatures requested per history page, up to the
// node-side cap of 1000.
func WithPageLimit(n int) Option {
	return func(e *Engine) { e.pageLimit = n }
}

// WithSeed fixes the sampling seed. Zero derives the seed from the window
// bounds so re-sampling the same window stays deterministic.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an estimation engine.
func New(reader gateway.Reader, registry *resolver.Registry, vaults VaultSource, prices PriceSource, opts ...Option) *Engine {
	e := &Engine{
		reader:       reader,
		registry:     registry,
		vaults:       vaults,
		prices:       prices,
		buckets:      DefaultBuckets,
		bucketSample: DefaultBucketSample,
		minSample:    DefaultMinSample,
		fanout:       DefaultFanout,
		maxPages:     DefaultMaxPages,
		pageLimit:    DefaultPageLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Measure runs one estimator pass for the request's kind.
func (e *Engine) Measure(ctx context.Context, req *domain.MetricRequest) (*domain.Measurement, error) {
	desc, err := e.registry.Lookup(req.ProtocolID)
	if err != nil {
		return nil, err
	}
	switch req.Kind {
	case domain.MetricTVL:
		return e.TVL(ctx, desc)
	case domain.MetricVolume:
		return e.Volume(ctx, desc, req.WindowStart, req.WindowEnd)
	case domain.MetricUsers:
		return e.Users(ctx, desc, req.WindowStart, req.WindowEnd)
	case domain.MetricTransactions:
		return e.TxCount(ctx, desc, req.WindowStart, req.WindowEnd)
	case domain.MetricPrice:
		return e.Price(ctx, desc)
	case domain.MetricMarketCap:
		return e.MarketCap(ctx, desc)
	default:
		return nil, fmt.Errorf("measure: %w: kind %q", domain.ErrInvalidRequest, req.Kind)
	}
}

// observeSlot snapshots the chain tip for the measurement. Best effort:
// a failed read leaves the slot at zero rather than failing the pass.
func (e *Engine) observeSlot(ctx context.Context) uint64 {
	slot, err := e.reader.CurrentSlot(ctx)
	if err != nil {
		e.logger.Debug("slot snapshot failed", zap.Error(err))
		return 0
	}
	return slot
}

// walkWindow streams in-window signatures newest-first and reports
// whether the walk reached past the window start. visit may be called in
// any page order the node returns; signatures without a block time are
// skipped.
func (e *Engine) walkWindow(ctx context.Context, address string, start, end time.Time, visit func(sig string, at time.Time, failed bool)) (bool, error) {
	before := ""
	for page := 0; page < e.maxPages; page++ {
		opts := &solana.SignaturesOpts{Before: before, Limit: e.pageLimit}
		sigs, err := e.reader.Signatures(ctx, address, opts)
		if err != nil {
			return false, fmt.Errorf("signature walk %s: %w", address, err)
		}
		if len(sigs) == 0 {
			return true, nil
		}
		for _, sig := range sigs {
			if sig.BlockTime == nil {
				continue
			}
			at := time.Unix(*sig.BlockTime, 0).UTC()
			if !at.Before(end) {
				continue
			}
			if at.Before(start) {
				return true, nil
			}
			visit(sig.Signature, at, sig.Failed())
		}
		before = sigs[len(sigs)-1].Signature
		if len(sigs) < e.pageLimit {
			return true, nil
		}
	}
	e.logger.Warn("signature walk truncated",
		zap.String("address", address),
		zap.Int("pages", e.maxPages))
	return false, nil
}
