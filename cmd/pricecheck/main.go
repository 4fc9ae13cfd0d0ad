package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"solana-metrics-oracle/internal/config"
	"solana-metrics-oracle/internal/gateway"
	"solana-metrics-oracle/internal/logging"
	"solana-metrics-oracle/internal/pricing"
	"solana-metrics-oracle/internal/solana"
)

// pricecheck resolves one mint to USD through the on-chain pool scan and
// prints the evidence. Handy when a protocol resolves to a surprising TVL:
// the price leg is usually the culprit.
func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	mint := flag.String("mint", "", "Token mint to price")
	jsonOut := flag.Bool("json", false, "Print the result as JSON")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall budget")

	flag.Parse()

	cli := log.New(os.Stderr, "[pricecheck] ", log.LstdFlags)

	if *mint == "" {
		cli.Println("--mint is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cli.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		cli.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

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
	)
	if err != nil {
		cli.Fatalf("Build gateway: %v", err)
	}

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

	point, err := pricer.PriceOf(ctx, *mint)
	if err != nil {
		cli.Fatalf("Price %s: %v", *mint, err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(point)
		return
	}

	fmt.Printf("mint:        %s\n", point.Mint)
	fmt.Printf("price:       %.9f USD\n", point.PriceUSD)
	fmt.Printf("liquidity:   %.2f USD\n", point.LiquidityUSD)
	fmt.Printf("reliability: %.4f\n", point.Reliability)
	if point.TWAPFallback {
		fmt.Println("fallback:    spot rejected, trailing average substituted")
	}
	if len(point.Pools) > 0 {
		fmt.Printf("pools:       %s\n", strings.Join(point.Pools, ", "))
	}
	if len(point.Flags) > 0 {
		flags := make([]string, len(point.Flags))
		for i, f := range point.Flags {
			flags[i] = string(f)
		}
		fmt.Printf("flags:       %s\n", strings.Join(flags, ", "))
	}
	fmt.Printf("observed at: %s\n", point.ObservedAt.Format(time.RFC3339))
}
