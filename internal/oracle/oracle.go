// Package oracle wires measurement, consensus, scoring and journaling into
// the single Resolve entry point. Resolve never returns an error: every
// failure mode is encoded in the result's value, confidence and flags.
package oracle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-metrics-oracle/internal/confidence"
	"solana-metrics-oracle/internal/consensus"
	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/journal"
	"solana-metrics-oracle/internal/logging"
	"solana-metrics-oracle/internal/observability"
)

// journalTimeout bounds best-effort journal writes so an exhausted request
// deadline cannot also lose the forensic trail.
const journalTimeout = 10 * time.Second

// Runner drives one consensus run. Implemented by consensus.Engine.
type Runner interface {
	Run(ctx context.Context, req *domain.MetricRequest) *consensus.Outcome
}

// Gate admits or refuses work. Implemented by breaker.Breaker.
type Gate interface {
	Allow() bool
}

// Options for creating an Oracle.
type Options struct {
	// Consensus is required; everything else is optional.
	Consensus Runner

	Scorer       *confidence.Scorer
	Breaker      Gate
	Resolutions  journal.ResolutionStore
	Measurements journal.MeasurementStore
	Logger       *zap.Logger
	Now          func() time.Time
}

// Oracle resolves metric requests end to end.
type Oracle struct {
	consensus    Runner
	scorer       *confidence.Scorer
	breaker      Gate
	resolutions  journal.ResolutionStore
	measurements journal.MeasurementStore
	logger       *zap.Logger
	now          func() time.Time
}

// New creates an Oracle.
func New(opts Options) *Oracle {
	scorer := opts.Scorer
	if scorer == nil {
		scorer = confidence.New()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Oracle{
		consensus:    opts.Consensus,
		scorer:       scorer,
		breaker:      opts.Breaker,
		resolutions:  opts.Resolutions,
		measurements: opts.Measurements,
		logger:       logging.OrNop(opts.Logger),
		now:          now,
	}
}

// Resolve answers one metric request. The result always carries a terminal
// recommendation; callers decide what to do with it.
func (o *Oracle) Resolve(ctx context.Context, req *domain.MetricRequest) domain.ConsensusResult {
	start := o.now()

	if req == nil {
		return domain.ConsensusResult{
			Recommendation: domain.RecommendCancel,
			ResolvedAt:     start.UTC(),
		}
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	if err := req.Validate(); err != nil {
		o.logger.Warn("rejecting invalid request",
			zap.String("request_id", req.ID.String()),
			zap.String("protocol", req.ProtocolID),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
		observability.RecordResolution(string(req.Kind), string(domain.RecommendCancel))
		return domain.Unresolvable(req)
	}

	if o.breaker != nil && !o.breaker.Allow() {
		o.logger.Warn("oracle degraded, refusing request",
			zap.String("request_id", req.ID.String()),
			zap.String("protocol", req.ProtocolID),
			zap.String("kind", string(req.Kind)))
		observability.RecordResolution(string(req.Kind), string(domain.RecommendCancel))
		return domain.Degraded(req)
	}

	outcome := o.consensus.Run(ctx, req)

	verdict := o.scorer.Score(confidence.Scores{
		DataQuality:      outcome.DataQuality,
		PriceReliability: outcome.PriceReliability,
		Freshness:        outcome.Freshness,
		Coverage:         outcome.Coverage,
	})

	flags := outcome.Flags
	if verdict.Recommendation == domain.RecommendResolveFlagged {
		flags = domain.MergeFlags(flags, []domain.Flag{domain.FlagLowConfidence})
	}

	resolvedAt := outcome.FinishedAt
	if resolvedAt.IsZero() {
		resolvedAt = o.now().UTC()
	}

	result := domain.ConsensusResult{
		RequestID:      req.ID,
		ProtocolID:     req.ProtocolID,
		Kind:           req.Kind,
		Value:          outcome.Value,
		Confidence:     verdict.Confidence,
		Recommendation: verdict.Recommendation,
		Flags:          flags,
		Measurements:   outcome.Survivors,
		ResolvedAt:     resolvedAt,
	}

	o.observe(req, outcome, &result, start)
	o.journal(ctx, req, outcome, &result)

	o.logger.Info("request resolved",
		zap.String("request_id", req.ID.String()),
		zap.String("protocol", req.ProtocolID),
		zap.String("kind", string(req.Kind)),
		zap.Float64("value", result.Value),
		zap.Float64("confidence", result.Confidence),
		zap.String("recommendation", string(result.Recommendation)),
		zap.Int("survivors", result.Measurements),
		zap.Duration("took", o.now().Sub(start)))

	return result
}

// ResolveAsync runs Resolve in a goroutine. The returned channel is buffered
// and receives exactly one result before closing.
func (o *Oracle) ResolveAsync(ctx context.Context, req *domain.MetricRequest) <-chan domain.ConsensusResult {
	ch := make(chan domain.ConsensusResult, 1)
	go func() {
		ch <- o.Resolve(ctx, req)
		close(ch)
	}()
	return ch
}

func (o *Oracle) observe(req *domain.MetricRequest, outcome *consensus.Outcome, result *domain.ConsensusResult, start time.Time) {
	kind := string(req.Kind)
	observability.RecordResolution(kind, string(result.Recommendation))
	observability.ObserveResolutionDuration(kind, o.now().Sub(start).Seconds())
	observability.ObserveConfidence(kind, result.Confidence)
	for i := outcome.Survivors; i < len(outcome.Collected); i++ {
		observability.RecordOutlierDiscarded()
	}
	switch result.Recommendation {
	case domain.RecommendResolve, domain.RecommendResolveFlagged:
		observability.RecordLastResolution(float64(result.ResolvedAt.Unix()))
	}
}

// journal persists the terminal result and the raw passes. Writes are
// best-effort: failures are logged and counted, never surfaced.
func (o *Oracle) journal(ctx context.Context, req *domain.MetricRequest, outcome *consensus.Outcome, result *domain.ConsensusResult) {
	if o.resolutions == nil && o.measurements == nil {
		return
	}

	// The request deadline does not govern forensics.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if o.resolutions != nil {
		rec := &journal.ResolutionRecord{
			RequestID:      result.RequestID,
			ProtocolID:     result.ProtocolID,
			Kind:           result.Kind,
			Value:          result.Value,
			Confidence:     result.Confidence,
			Recommendation: result.Recommendation,
			Flags:          result.Flags,
			Measurements:   result.Measurements,
			ResolvedAt:     result.ResolvedAt,
		}
		if req.Windowed() {
			rec.WindowStart = req.WindowStart
			rec.WindowEnd = req.WindowEnd
		}
		writeStart := o.now()
		if err := o.resolutions.Insert(jctx, rec); err != nil {
			observability.RecordJournalWrite("resolutions", "error")
			o.logger.Warn("journal resolution write failed",
				zap.String("request_id", req.ID.String()), zap.Error(err))
		} else {
			observability.RecordJournalWrite("resolutions", "ok")
			observability.ObserveJournalWriteDuration("resolutions", o.now().Sub(writeStart).Seconds())
		}
	}

	if o.measurements != nil && len(outcome.Collected) > 0 {
		recs := make([]*journal.MeasurementRecord, 0, len(outcome.Collected))
		for i, m := range outcome.Collected {
			recs = append(recs, &journal.MeasurementRecord{
				RequestID:        req.ID,
				ProtocolID:       req.ProtocolID,
				Kind:             req.Kind,
				Pass:             i,
				Value:            m.Value,
				Slot:             m.Slot,
				Coverage:         m.Coverage,
				DataQuality:      m.DataQuality,
				PriceReliability: m.PriceReliability,
				IntervalLow:      m.IntervalLow,
				IntervalHigh:     m.IntervalHigh,
				Flags:            m.Flags,
				TakenAt:          m.TakenAt,
			})
		}
		writeStart := o.now()
		if err := o.measurements.InsertBatch(jctx, recs); err != nil {
			observability.RecordJournalWrite("measurements", "error")
			o.logger.Warn("journal measurement write failed",
				zap.String("request_id", req.ID.String()), zap.Error(err))
		} else {
			observability.RecordJournalWrite("measurements", "ok")
			observability.ObserveJournalWriteDuration("measurements", o.now().Sub(writeStart).Seconds())
		}
	}
}
