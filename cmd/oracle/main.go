package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-metrics-oracle/internal/breaker"
	"solana-metrics-oracle/internal/config"
	"solana-metrics-oracle/internal/confidence"
	"solana-metrics-oracle/internal/consensus"
	"solana-metrics-oracle/internal/domain"
	"solana-metrics-oracle/internal/estimate"
	"solana-metrics-oracle/internal/gateway"
	"solana-metrics-oracle/internal/journal"
	chstore "solana-metrics-oracle/internal/journal/clickhouse"
	"solana-metrics-oracle/internal/journal/memory"
	"solana-metrics-oracle/internal/journal/migrations"
	pgstore "solana-metrics-oracle/internal/journal/postgres"
	"solana-metrics-oracle/internal/logging"
	"solana-metrics-oracle/internal/observability"
	"solana-metrics-oracle/internal/oracle"
	"solana-metrics-oracle/internal/pricing"
	"solana-metrics-oracle/internal/resolver"
	"solana-metrics-oracle/internal/solana"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	protocol := flag.String("protocol", "", "Protocol id from the registry")
	metric := flag.String("metric", "", "Metric kind: TVL, VOLUME, USERS, TRANSACTIONS, PRICE, MARKET_CAP")
	window := flag.Duration("window", 24*time.Hour, "Measurement window for windowed kinds")
	end := flag.String("end", "", "Window end, RFC3339 (default now)")
	at := flag.String("at", "", "Target time for instant kinds, RFC3339 (default now)")
	deadline := flag.Duration("deadline", 0, "Total resolution budget (0 = unbounded)")
	jsonOut := flag.Bool("json", false, "Print the result as JSON")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics address (overrides config)")

	flag.Parse()

	cli := log.New(os.Stderr, "[oracle] ", log.LstdFlags)

	if *protocol == "" || *metric == "" {
		cli.Println("--protocol and --metric are required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cli.Fatalf("Load config: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		cli.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, cli)
	}

	req, err := buildRequest(*protocol, *metric, *window, *end, *at, *deadline)
	if err != nil {
		cli.Fatalf("Bad request: %v", err)
	}

	// Cancel on SIGINT/SIGTERM; a second signal kills the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		cli.Printf("Received signal %v, cancelling...", sig)
		cancel()
		<-sigCh
		os.Exit(1)
	}()

	o, cleanup, err := buildOracle(ctx, cfg, logger)
	if err != nil {
		cli.Fatalf("Build oracle: %v", err)
	}
	defer cleanup()

	result := o.Resolve(ctx, req)

	if *jsonOut {
		printJSON(result)
	} else {
		printText(result)
	}

	if result.Recommendation == domain.RecommendCancel {
		os.Exit(2)
	}
}

// buildRequest assembles and sanity-checks the metric request from flags.
func buildRequest(protocol, metric string, window time.Duration, end, at string, deadline time.Duration) (*domain.MetricRequest, error) {
	req := &domain.MetricRequest{
		ID:         uuid.New(),
		ProtocolID: protocol,
		Kind:       domain.MetricKind(strings.ToUpper(metric)),
	}

	if req.Windowed() {
		windowEnd := time.Now().UTC()
		if end != "" {
			t, err := time.Parse(time.RFC3339, end)
			if err != nil {
				return nil, fmt.Errorf("parse --end: %w", err)
			}
			windowEnd = t.UTC()
		}
		if window <= 0 {
			return nil, fmt.Errorf("--window must be positive for %s", req.Kind)
		}
		req.WindowEnd = windowEnd
		req.WindowStart = windowEnd.Add(-window)
	}

	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("parse --at: %w", err)
		}
		req.TargetTime = t.UTC()
	}

	if deadline > 0 {
		req.Deadline = time.Now().Add(deadline)
	}

	return req, req.Validate()
}

// buildOracle wires the full resolution stack from configuration.
func buildOracle(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*oracle.Oracle, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	brk := breaker.New(breaker.Options{
		Window:           cfg.Breaker.Window,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinCalls:         cfg.Breaker.MinCalls,
		Stabilization:    cfg.Breaker.Stabilization,
		MaxSlotAge:       cfg.Breaker.MaxSlotAge,
		Logger:           logger,
		OnStateChange: func(s breaker.State) {
			observability.SetOracleDegraded(s == breaker.StateDegraded)
		},
	})

	endpoints := make([]gateway.Endpoint, 0, len(cfg.RPC.Endpoints))
	for _, ep := range cfg.RPC.Endpoints {
		client := solana.NewHTTPClient(ep.URL,
			solana.WithTimeout(cfg.RPC.RequestTimeout),
			solana.WithMaxRetries(cfg.RPC.MaxRetries),
			solana.WithRetryDelay(cfg.RPC.RetryDelay),
		)
		endpoints = append(endpoints, gateway.Endpoint{Client: client, URL: ep.URL, Priority: ep.Priority})
	}

	gw, err := gateway.New(endpoints,
		gateway.WithLogger(logger),
		gateway.WithRates(cfg.Gateway.GeneralOps, cfg.Gateway.ScanOps, cfg.Gateway.RatePeriod),
		gateway.WithBatchSize(cfg.Gateway.BatchSize),
		gateway.WithFanout(cfg.Gateway.Fanout),
		gateway.WithParking(cfg.Gateway.ParkFailureRatio, cfg.Gateway.ParkMinCalls, cfg.Gateway.ParkCooldown),
		gateway.WithOutcomeFunc(brk.Record),
		gateway.WithSlotFunc(brk.ReportSlot),
	)
	if err != nil {
		return nil, cleanup, fmt.Errorf("build gateway: %w", err)
	}

	// A live slot feed sharpens staleness detection; polled slots carry it
	// otherwise.
	if cfg.RPC.WSEndpoint != "" {
		ws, err := solana.NewWSClient(ctx, cfg.RPC.WSEndpoint, nil)
		if err != nil {
			logger.Warn("websocket unavailable, staleness rides polled slots", zap.Error(err))
		} else {
			closers = append(closers, func() { ws.Close() })
			go func() {
				err := solana.WatchSlots(ctx, ws, func(slot uint64) {
					brk.ReportSlot(slot)
					observability.UpdateHighestSlot(slot)
				})
				if err != nil && ctx.Err() == nil {
					logger.Warn("slot watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	registry := resolver.NewRegistry()
	vaults := resolver.New(gw, resolver.WithLogger(logger))

	layouts := make([]pricing.PoolLayout, 0, len(cfg.Pricing.AMMPrograms))
	for _, program := range cfg.Pricing.AMMPrograms {
		l := pricing.StableswapLayout()
		l.Program = program
		layouts = append(layouts, l)
	}
	pricer := pricing.New(gw,
		pricing.WithLogger(logger),
		pricing.WithLayouts(layouts...),
		pricing.WithStablecoins(cfg.Pricing.StablecoinMints...),
		pricing.WithNativeMint(cfg.Pricing.NativeMint),
		pricing.WithTiers(cfg.Pricing.MinLiquidityUSD, cfg.Pricing.FullWeightLiquidityUSD),
		pricing.WithTWAP(cfg.Pricing.TWAPWindow, cfg.Pricing.TWAPMaxDeviation),
		pricing.WithBootstrapDivergence(cfg.Pricing.BootstrapMaxDivergence),
	)

	estOpts := []estimate.Option{
		estimate.WithLogger(logger),
		estimate.WithBuckets(cfg.Sampling.VolumeBuckets),
		estimate.WithBucketSample(cfg.Sampling.BucketSampleSize),
		estimate.WithMinSample(cfg.Sampling.MinSampleSize),
		estimate.WithPageLimit(cfg.Sampling.PageLimit),
		estimate.WithMaxPages(cfg.Sampling.MaxPages),
		estimate.WithFanout(cfg.Gateway.Fanout),
	}
	if cfg.Sampling.Seed != 0 {
		estOpts = append(estOpts, estimate.WithSeed(cfg.Sampling.Seed))
	}
	est := estimate.New(gw, registry, vaults, pricer, estOpts...)

	engine := consensus.New(est,
		consensus.WithLogger(logger),
		consensus.WithPasses(cfg.Consensus.Measurements),
		consensus.WithSpacing(cfg.Consensus.Spacing),
		consensus.WithQuorum(cfg.Consensus.Quorum),
		consensus.WithOutlierSigma(cfg.Consensus.OutlierSigma),
		consensus.WithStaleness(brk),
	)

	scorer := confidence.New(
		confidence.WithWeights(confidence.Weights{
			DataQuality:      cfg.Confidence.DataQualityWeight,
			PriceReliability: cfg.Confidence.PriceReliabilityWeight,
			Freshness:        cfg.Confidence.FreshnessWeight,
			Coverage:         cfg.Confidence.CoverageWeight,
		}),
		confidence.WithThresholds(confidence.Thresholds{
			Resolve: cfg.Confidence.ResolveThreshold,
			Flag:    cfg.Confidence.FlagThreshold,
			Delay:   cfg.Confidence.DelayThreshold,
		}),
	)

	resolutions, measurements, err := buildJournal(ctx, cfg, logger, &closers)
	if err != nil {
		return nil, cleanup, err
	}

	o := oracle.New(oracle.Options{
		Consensus:    engine,
		Scorer:       scorer,
		Breaker:      brk,
		Resolutions:  resolutions,
		Measurements: measurements,
		Logger:       logger,
	})
	return o, cleanup, nil
}

// buildJournal selects the journal backends from configuration.
func buildJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger, closers *[]func()) (journal.ResolutionStore, journal.MeasurementStore, error) {
	switch cfg.Journal.Backend {
	case "", "memory":
		return memory.NewResolutionStore(), memory.NewMeasurementStore(), nil

	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("journal postgres: %w", err)
		}
		*closers = append(*closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("journal postgres migrations: %w", err)
		}

		var measurements journal.MeasurementStore = memory.NewMeasurementStore()
		if cfg.Journal.ClickHouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Journal.ClickHouseDSN)
			if err != nil {
				return nil, nil, fmt.Errorf("journal clickhouse migrations: %w", err)
			}
			*closers = append(*closers, func() { conn.Close() })
			measurements = chstore.NewMeasurementStore(conn)
		} else {
			logger.Info("clickhouse dsn empty, raw passes stay in memory")
		}
		return pgstore.NewResolutionStore(pool), measurements, nil

	default:
		return nil, nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
}

func serveMetrics(addr string, cli *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	cli.Printf("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		cli.Printf("Metrics server error: %v", err)
	}
}

func printText(r domain.ConsensusResult) {
	fmt.Printf("request:        %s\n", r.RequestID)
	fmt.Printf("protocol:       %s\n", r.ProtocolID)
	fmt.Printf("metric:         %s\n", r.Kind)
	fmt.Printf("value:          %.6f\n", r.Value)
	fmt.Printf("confidence:     %.4f\n", r.Confidence)
	fmt.Printf("recommendation: %s\n", r.Recommendation)
	if len(r.Flags) > 0 {
		flags := make([]string, len(r.Flags))
		for i, f := range r.Flags {
			flags[i] = string(f)
		}
		fmt.Printf("flags:          %s\n", strings.Join(flags, ", "))
	}
	fmt.Printf("measurements:   %d\n", r.Measurements)
	fmt.Printf("resolved at:    %s\n", r.ResolvedAt.Format(time.RFC3339))
}

func printJSON(r domain.ConsensusResult) {
	out := struct {
		RequestID      string   `json:"request_id"`
		ProtocolID     string   `json:"protocol_id"`
		Kind           string   `json:"kind"`
		Value          float64  `json:"value"`
		Confidence     float64  `json:"confidence"`
		Recommendation string   `json:"recommendation"`
		Flags          []string `json:"flags,omitempty"`
		Measurements   int      `json:"measurements"`
		ResolvedAt     string   `json:"resolved_at"`
	}{
		RequestID:      r.RequestID.String(),
		ProtocolID:     r.ProtocolID,
		Kind:           string(r.Kind),
		Value:          r.Value,
		Confidence:     r.Confidence,
		Recommendation: string(r.Recommendation),
		Measurements:   r.Measurements,
		ResolvedAt:     r.ResolvedAt.Format(time.RFC3339),
	}
	for _, f := range r.Flags {
		out.Flags = append(out.Flags, string(f))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
