// Package gateway multiplexes Solana read calls across RPC endpoints with
// per-endpoint rate budgets, health-ordered failover and endpoint parking.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solana-metrics-oracle/internal/logging"
	"solana-metrics-oracle/internal/observability"
	"solana-metrics-oracle/internal/solana"
)

// Reader is the read-only chain surface the estimators consume.
type Reader interface {
	// FetchAccounts returns account state for each pubkey in order. Missing
	// accounts and accounts lost to failed batches are nil. The error is
	// non-nil only when no batch succeeded.
	FetchAccounts(ctx context.Context, pubkeys []string) ([]*solana.AccountInfo, error)
	// Signatures returns one page of signature history, newest first.
	Signatures(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error)
	// Transaction fetches a confirmed transaction with token balance meta.
	// Returns nil when not found.
	Transaction(ctx context.Context, signature string) (*solana.Transaction, error)
	// ProgramAccounts scans accounts owned by a program, optionally filtered.
	ProgramAccounts(ctx context.Context, program string, opts *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error)
	// CurrentSlot returns the node's view of the chain head.
	CurrentSlot(ctx context.Context) (uint64, error)
	// BlockTime returns the unix timestamp of a slot, nil for skipped slots.
	BlockTime(ctx context.Context, slot int64) (*int64, error)
}

// Op classes map to separate rate buckets. Scans are an order of magnitude
// more expensive on the node than point reads.
const (
	classGeneral = "general"
	classScan    = "scan"
)

// Defaults match the free-tier budgets of public RPC providers.
const (
	DefaultGeneralOps       = 100
	DefaultScanOps          = 40
	DefaultRatePeriod       = 10 * time.Second
	DefaultBatchSize        = solana.MaxBatchAccounts
	DefaultFanout           = 8
	DefaultParkFailureRatio = 0.5
	DefaultParkMinCalls     = 10
	DefaultParkCooldown     = 30 * time.Second

	healthAlpha = 0.2
)

// ErrNoEndpoints is returned when every endpoint is parked or the gateway
// was built without any.
var ErrNoEndpoints = errors.New("gateway: no endpoint available")

// Endpoint pairs an RPC client with its failover priority. Lower priority
// is tried first; ties break on observed health.
type Endpoint struct {
	Client   solana.RPCClient
	URL      string
	Priority int
}

type endpointState struct {
	client   solana.RPCClient
	url      string
	priority int
	general  *rate.Limiter
	scan     *rate.Limiter
	parker   *gobreaker.CircuitBreaker
	health   atomic.Uint64
}

func (e *endpointState) healthScore() float64 {
	return math.Float64frombits(e.health.Load())
}

func (e *endpointState) recordHealth(success bool) float64 {
	for {
		old := e.health.Load()
		outcome := 0.0
		if success {
			outcome = 1.0
		}
		next := (1-healthAlpha)*math.Float64frombits(old) + healthAlpha*outcome
		if e.health.CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}

func (e *endpointState) limiter(class string) *rate.Limiter {
	if class == classScan {
		return e.scan
	}
	return e.general
}

// Gateway implements Reader over a prioritized endpoint set.
type Gateway struct {
	logger     *zap.Logger
	generalOps int
	scanOps    int
	ratePeriod time.Duration
	batchSize  int
	fanout     int
	parkRatio  float64
	parkMin    uint32
	parkCool   time.Duration
	onOutcome  func(success bool)
	onSlot     func(slot uint64)

	endpoints []*endpointState
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithRates sets the per-endpoint op budgets per period.
func WithRates(generalOps, scanOps int, period time.Duration) Option {
	return func(g *Gateway) {
		g.generalOps = generalOps
		g.scanOps = scanOps
		g.ratePeriod = period
	}
}

// WithBatchSize caps accounts per getMultipleAccounts call.
func WithBatchSize(n int) Option {
	return func(g *Gateway) { g.batchSize = n }
}

// WithFanout caps concurrent batch fetches.
func WithFanout(n int) Option {
	return func(g *Gateway) { g.fanout = n }
}

// WithParking tunes the per-endpoint circuit that sidelines failing endpoints.
func WithParking(failureRatio float64, minCalls uint32, cooldown time.Duration) Option {
	return func(g *Gateway) {
		g.parkRatio = failureRatio
		g.parkMin = minCalls
		g.parkCool = cooldown
	}
}

// WithOutcomeFunc registers a hook invoked with every call's transport outcome.
func WithOutcomeFunc(fn func(success bool)) Option {
	return func(g *Gateway) { g.onOutcome = fn }
}

// WithSlotFunc registers a hook invoked with every fresh slot observation.
func WithSlotFunc(fn func(slot uint64)) Option {
	return func(g *Gateway) { g.onSlot = fn }
}

// New creates a Gateway over the given endpoints.
func New(endpoints []Endpoint, opts ...Option) (*Gateway, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	g := &Gateway{
		generalOps: DefaultGeneralOps,
		scanOps:    DefaultScanOps,
		ratePeriod: DefaultRatePeriod,
		batchSize:  DefaultBatchSize,
		fanout:     DefaultFanout,
		parkRatio:  DefaultParkFailureRatio,
		parkMin:    DefaultParkMinCalls,
		parkCool:   DefaultParkCooldown,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger)

	if g.batchSize <= 0 || g.batchSize > solana.MaxBatchAccounts {
		return nil, fmt.Errorf("gateway: batch size %d out of range (0, %d]", g.batchSize, solana.MaxBatchAccounts)
	}
	if g.fanout <= 0 {
		return nil, fmt.Errorf("gateway: fanout must be positive, got %d", g.fanout)
	}

	for _, ep := range endpoints {
		if ep.Client == nil {
			return nil, fmt.Errorf("gateway: endpoint %q has no client", ep.URL)
		}
		st := &endpointState{
			client:   ep.Client,
			url:      ep.URL,
			priority: ep.Priority,
			general:  rate.NewLimiter(rate.Limit(float64(g.generalOps)/g.ratePeriod.Seconds()), g.generalOps),
			scan:     rate.NewLimiter(rate.Limit(float64(g.scanOps)/g.ratePeriod.Seconds()), g.scanOps),
		}
		st.health.Store(math.Float64bits(1.0))
		st.parker = g.newParker(ep.URL)
		g.endpoints = append(g.endpoints, st)
	}
	return g, nil
}

func (g *Gateway) newParker(url string) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    g.parkCool,
		Timeout:     g.parkCool,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < g.parkMin {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > g.parkRatio
		},
		// Node-level rejections mean the endpoint is serving fine.
		IsSuccessful: func(err error) bool {
			return err == nil || !solana.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetEndpointParked(name, to == gobreaker.StateOpen)
			if to == gobreaker.StateOpen {
				g.logger.Warn("endpoint parked",
					zap.String("endpoint", name),
					zap.Duration("cooldown", g.parkCool))
			} else if from == gobreaker.StateOpen {
				g.logger.Info("endpoint probing", zap.String("endpoint", name))
			}
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// ordered returns endpoints sorted by priority, then health.
func (g *Gateway) ordered() []*endpointState {
	out := make([]*endpointState, len(g.endpoints))
	copy(out, g.endpoints)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].healthScore() > out[j].healthScore()
	})
	return out
}

// do runs fn against endpoints in failover order until one succeeds, the
// error is non-transient, or the context ends.
func (g *Gateway) do(ctx context.Context, method, class string, fn func(ctx context.Context, c solana.RPCClient) error) error {
	var lastErr error

	for _, ep := range g.ordered() {
		if ep.parker.State() == gobreaker.StateOpen {
			continue
		}

		waitStart := time.Now()
		if err := ep.limiter(class).Wait(ctx); err != nil {
			return err
		}
		observability.RecordRateLimitWait(class, time.Since(waitStart).Seconds())

		callStart := time.Now()
		_, err := ep.parker.Execute(func() (interface{}, error) {
			return nil, fn(ctx, ep.client)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Parked between the state check and the call; try the next one.
			continue
		}
		observability.RecordRPCLatency(method, time.Since(callStart).Seconds())

		ok := err == nil || !solana.IsTransient(err)
		health := ep.recordHealth(ok)
		observability.SetEndpointHealth(ep.url, health)
		if g.onOutcome != nil {
			g.onOutcome(ok)
		}

		if err == nil {
			observability.RecordRPCCall(method, ep.url, "ok")
			return nil
		}
		observability.RecordRPCCall(method, ep.url, "error")

		if !solana.IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		g.logger.Warn("endpoint call failed, trying next",
			zap.String("method", method),
			zap.String("endpoint", ep.url),
			zap.Error(err))
		lastErr = err
	}

	if lastErr == nil {
		return ErrNoEndpoints
	}
	return fmt.Errorf("all endpoints failed: %w", lastErr)
}

// FetchAccounts fetches account state in batches, fanning batches out over
// a bounded number of workers. Failed batches leave nil holes; the call
// errors only when every batch failed.
func (g *Gateway) FetchAccounts(ctx context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	out := make([]*solana.AccountInfo, len(pubkeys))
	if len(pubkeys) == 0 {
		return out, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		okBatches int
		lastErr   error
	)
	sem := make(chan struct{}, g.fanout)

	batches := 0
	for start := 0; start < len(pubkeys); start += g.batchSize {
		end := start + g.batchSize
		if end > len(pubkeys) {
			end = len(pubkeys)
		}
		batches++

		wg.Add(1)
		sem <- struct{}{}
		go func(start, end int) {
			defer wg.Done()
			defer func() { <-sem }()

			var accounts []*solana.AccountInfo
			err := g.do(ctx, "getMultipleAccounts", classGeneral, func(ctx context.Context, c solana.RPCClient) error {
				var callErr error
				accounts, callErr = c.GetMultipleAccounts(ctx, pubkeys[start:end])
				return callErr
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return
			}
			okBatches++
			copy(out[start:end], accounts)
		}(start, end)
	}
	wg.Wait()

	if okBatches == 0 {
		return nil, fmt.Errorf("fetch accounts: %w", lastErr)
	}
	if okBatches < batches {
		g.logger.Warn("partial account fetch",
			zap.Int("batches", batches),
			zap.Int("succeeded", okBatches),
			zap.Error(lastErr))
	}

	fetched := 0
	for _, acc := range out {
		if acc != nil {
			fetched++
		}
	}
	observability.RecordAccountsFetched(fetched)
	return out, nil
}

// Signatures returns one page of signature history for an address.
func (g *Gateway) Signatures(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	var sigs []solana.SignatureInfo
	err := g.do(ctx, "getSignaturesForAddress", classScan, func(ctx context.Context, c solana.RPCClient) error {
		var callErr error
		sigs, callErr = c.GetSignaturesForAddress(ctx, address, opts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	observability.RecordSignaturesScanned(len(sigs))
	return sigs, nil
}

// Transaction fetches a confirmed transaction.
func (g *Gateway) Transaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	var tx *solana.Transaction
	err := g.do(ctx, "getTransaction", classGeneral, func(ctx context.Context, c solana.RPCClient) error {
		var callErr error
		tx, callErr = c.GetTransaction(ctx, signature)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	observability.RecordTransactionSampled()
	return tx, nil
}

// ProgramAccounts scans a program's accounts.
func (g *Gateway) ProgramAccounts(ctx context.Context, program string, opts *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error) {
	var accounts []solana.KeyedAccount
	err := g.do(ctx, "getProgramAccounts", classScan, func(ctx context.Context, c solana.RPCClient) error {
		var callErr error
		accounts, callErr = c.GetProgramAccounts(ctx, program, opts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// CurrentSlot returns the chain head slot.
func (g *Gateway) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := g.do(ctx, "getSlot", classGeneral, func(ctx context.Context, c solana.RPCClient) error {
		var callErr error
		slot, callErr = c.GetSlot(ctx)
		return callErr
	})
	if err != nil {
		return 0, err
	}
	observability.UpdateHighestSlot(slot)
	if g.onSlot != nil {
		g.onSlot(slot)
	}
	return slot, nil
}

// BlockTime returns the unix timestamp of a slot, nil for skipped slots.
func (g *Gateway) BlockTime(ctx context.Context, slot int64) (*int64, error) {
	var ts *int64
	err := g.do(ctx, "getBlockTime", classGeneral, func(ctx context.Context, c solana.RPCClient) error {
		var callErr error
		ts, callErr = c.GetBlockTime(ctx, slot)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return ts, nil
}

var _ Reader = (*Gateway)(nil)
