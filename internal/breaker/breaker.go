package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-metrics-oracle/internal/logging"
)

// State of the process-wide breaker.
type State int

const (
	StateHealthy State = iota
	StateDegraded
)

func (s State) String() string {
	if s == StateDegraded {
		return "degraded"
	}
	return "healthy"
}

// Options configures the breaker.
type Options struct {
	// Window is the trailing interval over which call outcomes count.
	Window time.Duration
	// FailureThreshold degrades the oracle when the windowed failure rate
	// exceeds it. Evaluated on every recorded outcome, so a mixed burst
	// trips regardless of ordering.
	FailureThreshold float64
	// MinCalls is the minimum windowed call count before the rate is
	// meaningful. Below it the breaker never trips.
	MinCalls int
	// Stabilization is how long the rate must stay at or under the
	// threshold before a degraded breaker recovers.
	Stabilization time.Duration
	// MaxSlotAge degrades the oracle when no fresh slot has been observed
	// for this long. Zero disables staleness tracking.
	MaxSlotAge time.Duration

	Logger *zap.Logger

	// Now overrides the clock in tests.
	Now func() time.Time

	// OnStateChange is invoked outside the lock after each transition.
	OnStateChange func(State)
}

type callRecord struct {
	at time.Time
	ok bool
}

// Breaker tracks RPC outcomes over a sliding window and refuses oracle work
// while the failure rate or chain staleness says results would be garbage.
type Breaker struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	calls    []callRecord
	failures int
	state    State
	// healthySince marks when the rate last went under the threshold
	// while degraded. Zero while the rate is still too high.
	healthySince time.Time

	lastSlot     uint64
	lastSlotSeen time.Time
}

// New creates a breaker in the healthy state.
func New(opts Options) *Breaker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		state:  StateHealthy,
	}
}

// Record adds one call outcome and re-evaluates the state.
func (b *Breaker) Record(success bool) {
	now := b.opts.Now()

	b.mu.Lock()
	b.calls = append(b.calls, callRecord{at: now, ok: success})
	if !success {
		b.failures++
	}
	changed, state := b.evaluateLocked(now)
	b.mu.Unlock()

	if changed {
		b.notify(state)
	}
}

// ReportSlot feeds a fresh chain-head observation.
func (b *Breaker) ReportSlot(slot uint64) {
	now := b.opts.Now()

	b.mu.Lock()
	if slot >= b.lastSlot {
		b.lastSlot = slot
		b.lastSlotSeen = now
	}
	changed, state := b.evaluateLocked(now)
	b.mu.Unlock()

	if changed {
		b.notify(state)
	}
}

// Allow reports whether oracle work may proceed.
func (b *Breaker) Allow() bool {
	return b.State() == StateHealthy
}

// State re-evaluates against the clock and returns the current state.
func (b *Breaker) State() State {
	now := b.opts.Now()

	b.mu.Lock()
	changed, state := b.evaluateLocked(now)
	b.mu.Unlock()

	if changed {
		b.notify(state)
	}
	return state
}

// Stale reports whether the chain view is older than MaxSlotAge.
func (b *Breaker) Stale() bool {
	now := b.opts.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.staleLocked(now)
}

// LastSlot returns the most recent observed slot and when it was seen.
func (b *Breaker) LastSlot() (uint64, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSlot, b.lastSlotSeen
}

// FailureRate returns the current windowed failure rate and call count.
func (b *Breaker) FailureRate() (float64, int) {
	now := b.opts.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(now)
	if len(b.calls) == 0 {
		return 0, 0
	}
	return float64(b.failures) / float64(len(b.calls)), len(b.calls)
}

func (b *Breaker) staleLocked(now time.Time) bool {
	if b.opts.MaxSlotAge <= 0 || b.lastSlotSeen.IsZero() {
		return false
	}
	return now.Sub(b.lastSlotSeen) > b.opts.MaxSlotAge
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.opts.Window)
	drop := 0
	for drop < len(b.calls) && b.calls[drop].at.Before(cutoff) {
		if !b.calls[drop].ok {
			b.failures--
		}
		drop++
	}
	if drop > 0 {
		b.calls = append(b.calls[:0], b.calls[drop:]...)
	}
}

// evaluateLocked reconciles the state with the windowed rate and staleness.
// Returns whether the state changed and the state after evaluation.
func (b *Breaker) evaluateLocked(now time.Time) (bool, State) {
	b.pruneLocked(now)

	rateHigh := false
	if len(b.calls) >= b.opts.MinCalls && len(b.calls) > 0 {
		rate := float64(b.failures) / float64(len(b.calls))
		rateHigh = rate > b.opts.FailureThreshold
	}
	stale := b.staleLocked(now)

	prev := b.state

	switch b.state {
	case StateHealthy:
		if rateHigh || stale {
			b.state = StateDegraded
			b.healthySince = time.Time{}
		}
	case StateDegraded:
		if rateHigh || stale {
			// Still unhealthy; restart the stabilization clock.
			b.healthySince = time.Time{}
			break
		}
		if b.healthySince.IsZero() {
			b.healthySince = now
		}
		if now.Sub(b.healthySince) >= b.opts.Stabilization {
			b.state = StateHealthy
			b.healthySince = time.Time{}
		}
	}

	return b.state != prev, b.state
}

func (b *Breaker) notify(state State) {
	if state == StateDegraded {
		b.logger.Warn("oracle degraded", zap.String("state", state.String()))
	} else {
		b.logger.Info("oracle recovered", zap.String("state", state.String()))
	}
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(state)
	}
}
