// Package consensus reduces repeated estimator passes over live chain
// state to one agreed value. Passes run strictly sequentially with a
// fixed spacing so the run observes real state drift; outliers are
// filtered around the median before the final value is derived.
package consensus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/logging"
)

// State names one phase of a consensus run. DONE and LOW_CONFIDENCE are
// terminal; LOW_CONFIDENCE means the quorum check failed after filtering.
type State string

// Run states
const (
	StateCollecting    State = "COLLECTING"
	StateFiltering     State = "FILTERING"
	StateDone          State = "DONE"
	StateLowConfidence State = "LOW_CONFIDENCE"
)

// Run defaults.
const (
	DefaultPasses       = 5
	DefaultSpacing      = 2 * time.Minute
	DefaultQuorum       = 3
	DefaultOutlierSigma = 2.0
)

// Measurer runs one estimator pass. Satisfied by estimate.Engine.
type Measurer interface {
	Measure(ctx context.Context, req *domain.MetricRequest) (*domain.Measurement, error)
}

// StalenessSource reports whether the chain view has gone stale.
// Satisfied by breaker.Breaker.
type StalenessSource interface {
	Stale() bool
}

// Outcome is the reduced form of one run. Sub-scores are means over the
// surviving measurements; Freshness comes from their spread and is zero
// whenever the run ends LOW_CONFIDENCE.
type Outcome struct {
	State     State
	Value     float64
	Collected []*domain.Measurement // successful passes, pre-filter
	Survivors int

	Freshness        float64
	Coverage         float64
	DataQuality      float64
	PriceReliability float64

	Flags      []domain.Flag
	FinishedAt time.Time
}

// Engine drives consensus runs. Safe for concurrent use; each run keeps
// its own state on the stack.
type Engine struct {
	measurer  Measurer
	staleness StalenessSource
	logger    *zap.Logger

	passes       int
	spacing      time.Duration
	quorum       int
	outlierSigma float64
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPasses sets how many measurements one run collects.
func WithPasses(n int) Option {
	return func(e *Engine) { e.passes = n }
}

// WithSpacing sets the pause between consecutive passes.
func WithSpacing(d time.Duration) Option {
	return func(e *Engine) { e.spacing = d }
}

// WithQuorum sets the minimum survivor count for a DONE outcome.
func WithQuorum(n int) Option {
	return func(e *Engine) { e.quorum = n }
}

// WithOutlierSigma sets the filter width in standard deviations.
func WithOutlierSigma(s float64) Option {
	return func(e *Engine) { e.outlierSigma = s }
}

// WithStaleness wires the chain staleness check for the STALE flag.
func WithStaleness(s StalenessSource) Option {
	return func(e *Engine) { e.staleness = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds a consensus engine around a measurer.
func New(measurer Measurer, opts ...Option) *Engine {
	e := &Engine{
		measurer:     measurer,
		passes:       DefaultPasses,
		spacing:      DefaultSpacing,
		quorum:       DefaultQuorum,
		outlierSigma: DefaultOutlierSigma,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Run executes one consensus run for the request. It never returns an
// error; failed passes shrink the survivor count and the quorum check
// decides between DONE and LOW_CONFIDENCE.
func (e *Engine) Run(ctx context.Context, req *domain.MetricRequest) *Outcome {
	collected := make([]*domain.Measurement, 0, e.passes)
	var failFlags []domain.Flag

	for pass := 0; pass < e.passes; pass++ {
		if pass > 0 {
			if err := e.wait(ctx, e.spacing); err != nil {
				e.logger.Warn("consensus run interrupted",
					zap.String("protocol", req.ProtocolID),
					zap.Int("pass", pass),
					zap.Error(err))
				break
			}
		}
		budget, ok := e.passBudget(req, pass)
		if !ok {
			e.logger.Warn("request deadline exhausted",
				zap.String("protocol", req.ProtocolID),
				zap.Int("pass", pass))
			break
		}
		m, err := e.measurePass(ctx, req, budget)
		if err != nil {
			failFlags = domain.MergeFlags(failFlags, flagsForError(err))
			e.logger.Warn("measurement pass failed",
				zap.String("protocol", req.ProtocolID),
				zap.Int("pass", pass),
				zap.Error(err))
			continue
		}
		collected = append(collected, m)
		e.logger.Debug("measurement pass collected",
			zap.String("protocol", req.ProtocolID),
			zap.Int("pass", pass),
			zap.Float64("value", m.Value))
	}

	return e.filter(req, collected, failFlags)
}

// filter is the FILTERING phase: discard values beyond outlierSigma
// standard deviations from the median, re-derive the median, and score
// how tightly the survivors agree.
func (e *Engine) filter(req *domain.MetricRequest, collected []*domain.Measurement, failFlags []domain.Flag) *Outcome {
	out := &Outcome{
		State:      StateFiltering,
		Collected:  collected,
		FinishedAt: e.now(),
	}

	kept := filterOutliers(collected, e.outlierSigma)
	out.Survivors = len(kept)

	if len(kept) > 0 {
		out.Value = medianValue(kept)
		out.Coverage = meanOf(kept, func(m *domain.Measurement) float64 { return m.Coverage })
		out.DataQuality = meanOf(kept, func(m *domain.Measurement) float64 { return m.DataQuality })
		out.PriceReliability = meanOf(kept, func(m *domain.Measurement) float64 { return m.PriceReliability })
		for _, m := range kept {
			out.Flags = domain.MergeFlags(out.Flags, m.Flags)
		}
	}

	if len(kept) < e.quorum {
		out.State = StateLowConfidence
		out.Freshness = 0
		out.Flags = domain.MergeFlags(out.Flags, []domain.Flag{domain.FlagLowConfidence})
		out.Flags = domain.MergeFlags(out.Flags, failFlags)
		e.markStale(out)
		e.logger.Warn("consensus below quorum",
			zap.String("protocol", req.ProtocolID),
			zap.String("kind", string(req.Kind)),
			zap.Int("collected", len(collected)),
			zap.Int("survivors", len(kept)),
			zap.Int("quorum", e.quorum))
		return out
	}

	out.State = StateDone
	out.Freshness = spreadFreshness(values(kept))
	e.markStale(out)
	e.logger.Info("consensus done",
		zap.String("protocol", req.ProtocolID),
		zap.String("kind", string(req.Kind)),
		zap.Float64("value", out.Value),
		zap.Int("collected", len(collected)),
		zap.Int("survivors", len(kept)),
		zap.Float64("freshness", out.Freshness))
	return out
}

func (e *Engine) markStale(out *Outcome) {
	if e.staleness != nil && e.staleness.Stale() {
		out.Flags = domain.MergeFlags(out.Flags, []domain.Flag{domain.FlagStale})
	}
}

// passBudget derives how long a pass may run from the request deadline,
// reserving the spacing gaps still ahead. Zero budget means unbounded;
// ok is false when the deadline leaves no room for this pass.
func (e *Engine) passBudget(req *domain.MetricRequest, pass int) (time.Duration, bool) {
	if req.Deadline.IsZero() {
		return 0, true
	}
	left := e.passes - pass
	remaining := req.Deadline.Sub(e.now())
	remaining -= e.spacing * time.Duration(left-1)
	budget := remaining / time.Duration(left)
	if budget <= 0 {
		return 0, false
	}
	return budget, true
}

func (e *Engine) measurePass(ctx context.Context, req *domain.MetricRequest, budget time.Duration) (*domain.Measurement, error) {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	return e.measurer.Measure(ctx, req)
}

// wait pauses between passes, waking early on context cancellation.
func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// flagsForError maps a failed pass to the flag explaining it. Only
// surfaced when the whole run ends LOW_CONFIDENCE; isolated failures are
// absorbed by the quorum.
func flagsForError(err error) []domain.Flag {
	switch {
	case errors.Is(err, domain.ErrInsufficientSample):
		return []domain.Flag{domain.FlagInsufficientSample}
	case errors.Is(err, domain.ErrDataUnavailable), errors.Is(err, domain.ErrPriceUnavailable):
		return []domain.Flag{domain.FlagDataUnavailable}
	}
	return nil
}
