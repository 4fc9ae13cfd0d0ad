package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings of the oracle process.
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	MetricsAddr string           `mapstructure:"metrics_addr"`
	RPC         RPCConfig        `mapstructure:"rpc"`
	Gateway     GatewayConfig    `mapstructure:"gateway"`
	Consensus   ConsensusConfig  `mapstructure:"consensus"`
	Sampling    SamplingConfig   `mapstructure:"sampling"`
	Pricing     PricingConfig    `mapstructure:"pricing"`
	Confidence  ConfidenceConfig `mapstructure:"confidence"`
	Breaker     BreakerConfig    `mapstructure:"breaker"`
	Journal     JournalConfig    `mapstructure:"journal"`
}

// EndpointConfig is one RPC endpoint with its failover priority.
// Lower priority is tried first.
type EndpointConfig struct {
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
}

// RPCConfig holds node connectivity settings.
type RPCConfig struct {
	Endpoints      []EndpointConfig `mapstructure:"endpoints"`
	WSEndpoint     string           `mapstructure:"ws_endpoint"`
	RequestTimeout time.Duration    `mapstructure:"request_timeout"`
	MaxRetries     int              `mapstructure:"max_retries"`
	RetryDelay     time.Duration    `mapstructure:"retry_delay"`
}

// GatewayConfig holds rate limiting and fan-out settings.
type GatewayConfig struct {
	// Token buckets per endpoint, refilled over RatePeriod.
	GeneralOps int           `mapstructure:"general_ops"`
	ScanOps    int           `mapstructure:"scan_ops"`
	RatePeriod time.Duration `mapstructure:"rate_period"`

	BatchSize int `mapstructure:"batch_size"`
	Fanout    int `mapstructure:"fanout"`

	// Endpoint parking: an endpoint failing this share of at least
	// ParkMinCalls recent calls is parked for ParkCooldown.
	ParkFailureRatio float64       `mapstructure:"park_failure_ratio"`
	ParkMinCalls     uint32        `mapstructure:"park_min_calls"`
	ParkCooldown     time.Duration `mapstructure:"park_cooldown"`
}

// ConsensusConfig holds repeat-measurement settings.
type ConsensusConfig struct {
	Measurements int           `mapstructure:"measurements"`
	Spacing      time.Duration `mapstructure:"spacing"`
	Quorum       int           `mapstructure:"quorum"`
	OutlierSigma float64       `mapstructure:"outlier_sigma"`
}

// SamplingConfig holds statistical sampling settings for windowed metrics.
type SamplingConfig struct {
	VolumeBuckets    int `mapstructure:"volume_buckets"`
	BucketSampleSize int `mapstructure:"bucket_sample_size"`
	MinSampleSize    int `mapstructure:"min_sample_size"`
	// PageLimit is signatures per history page; MaxPages bounds the walk.
	PageLimit int `mapstructure:"page_limit"`
	MaxPages  int `mapstructure:"max_pages"`
	// Seed fixes reservoir sampling for reproducible runs. 0 derives one
	// from the window bounds.
	Seed int64 `mapstructure:"seed"`
}

// PricingConfig holds pool discovery and weighting settings.
type PricingConfig struct {
	AMMPrograms            []string      `mapstructure:"amm_programs"`
	StablecoinMints        []string      `mapstructure:"stablecoin_mints"`
	NativeMint             string        `mapstructure:"native_mint"`
	MinLiquidityUSD        float64       `mapstructure:"min_liquidity_usd"`
	FullWeightLiquidityUSD float64       `mapstructure:"full_weight_liquidity_usd"`
	TWAPMaxDeviation       float64       `mapstructure:"twap_max_deviation"`
	BootstrapMaxDivergence float64       `mapstructure:"bootstrap_max_divergence"`
	TWAPWindow             time.Duration `mapstructure:"twap_window"`
}

// ConfidenceConfig holds composite score weights and decision thresholds.
type ConfidenceConfig struct {
	DataQualityWeight      float64 `mapstructure:"data_quality_weight"`
	PriceReliabilityWeight float64 `mapstructure:"price_reliability_weight"`
	FreshnessWeight        float64 `mapstructure:"freshness_weight"`
	CoverageWeight         float64 `mapstructure:"coverage_weight"`

	ResolveThreshold float64 `mapstructure:"resolve_threshold"`
	FlagThreshold    float64 `mapstructure:"flag_threshold"`
	DelayThreshold   float64 `mapstructure:"delay_threshold"`
}

// BreakerConfig holds process-wide circuit breaker settings.
type BreakerConfig struct {
	Window           time.Duration `mapstructure:"window"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	MinCalls         int           `mapstructure:"min_calls"`
	Stabilization    time.Duration `mapstructure:"stabilization"`
	MaxSlotAge       time.Duration `mapstructure:"max_slot_age"`
}

// JournalConfig selects the audit journal backend.
type JournalConfig struct {
	Backend       string `mapstructure:"backend"` // "memory" | "postgres"
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"` // empty disables telemetry
}

// Load reads the configuration file and environment variables. An empty
// path loads defaults plus ORACLE_* environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("rpc.endpoints", []map[string]interface{}{
		{"url": "https://api.mainnet-beta.solana.com", "priority": 0},
	})
	v.SetDefault("rpc.ws_endpoint", "")
	v.SetDefault("rpc.request_timeout", "30s")
	v.SetDefault("rpc.max_retries", 2)
	v.SetDefault("rpc.retry_delay", "250ms")

	v.SetDefault("gateway.general_ops", 100)
	v.SetDefault("gateway.scan_ops", 40)
	v.SetDefault("gateway.rate_period", "10s")
	v.SetDefault("gateway.batch_size", 100)
	v.SetDefault("gateway.fanout", 8)
	v.SetDefault("gateway.park_failure_ratio", 0.5)
	v.SetDefault("gateway.park_min_calls", 10)
	v.SetDefault("gateway.park_cooldown", "30s")

	v.SetDefault("consensus.measurements", 5)
	v.SetDefault("consensus.spacing", "2m")
	v.SetDefault("consensus.quorum", 3)
	v.SetDefault("consensus.outlier_sigma", 2.0)

	v.SetDefault("sampling.volume_buckets", 24)
	v.SetDefault("sampling.bucket_sample_size", 100)
	v.SetDefault("sampling.min_sample_size", 30)
	v.SetDefault("sampling.page_limit", 1000)
	v.SetDefault("sampling.max_pages", 20)
	v.SetDefault("sampling.seed", 0)

	v.SetDefault("pricing.amm_programs", []string{
		"EFsgmpbKifyA75ZY5NPHQxrtuAHHB6sYnoGkLi6xoTte",
	})
	v.SetDefault("pricing.stablecoin_mints", []string{
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", // USDT
	})
	v.SetDefault("pricing.native_mint", "So11111111111111111111111111111111111111112")
	v.SetDefault("pricing.min_liquidity_usd", 1_000.0)
	v.SetDefault("pricing.full_weight_liquidity_usd", 1_000_000.0)
	v.SetDefault("pricing.twap_max_deviation", 0.20)
	v.SetDefault("pricing.bootstrap_max_divergence", 0.05)
	v.SetDefault("pricing.twap_window", "10m")

	v.SetDefault("confidence.data_quality_weight", 0.30)
	v.SetDefault("confidence.price_reliability_weight", 0.30)
	v.SetDefault("confidence.freshness_weight", 0.20)
	v.SetDefault("confidence.coverage_weight", 0.20)
	v.SetDefault("confidence.resolve_threshold", 0.90)
	v.SetDefault("confidence.flag_threshold", 0.80)
	v.SetDefault("confidence.delay_threshold", 0.60)

	v.SetDefault("breaker.window", "5m")
	v.SetDefault("breaker.failure_threshold", 0.5)
	v.SetDefault("breaker.min_calls", 10)
	v.SetDefault("breaker.stabilization", "2m")
	v.SetDefault("breaker.max_slot_age", "2m")

	v.SetDefault("journal.backend", "memory")
	v.SetDefault("journal.postgres_dsn", "")
	v.SetDefault("journal.clickhouse_dsn", "")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.validateRPC(); err != nil {
		return fmt.Errorf("rpc config: %w", err)
	}
	if err := c.validateGateway(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if err := c.validateConsensus(); err != nil {
		return fmt.Errorf("consensus config: %w", err)
	}
	if err := c.validateSampling(); err != nil {
		return fmt.Errorf("sampling config: %w", err)
	}
	if err := c.validatePricing(); err != nil {
		return fmt.Errorf("pricing config: %w", err)
	}
	if err := c.validateConfidence(); err != nil {
		return fmt.Errorf("confidence config: %w", err)
	}
	if err := c.validateBreaker(); err != nil {
		return fmt.Errorf("breaker config: %w", err)
	}
	if err := c.validateJournal(); err != nil {
		return fmt.Errorf("journal config: %w", err)
	}
	return nil
}

func (c *Config) validateRPC() error {
	if len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint required")
	}
	for i, ep := range c.RPC.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("endpoint %d: empty url", i)
		}
	}
	if c.RPC.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.RPC.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

func (c *Config) validateGateway() error {
	if c.Gateway.GeneralOps <= 0 || c.Gateway.ScanOps <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Gateway.RatePeriod <= 0 {
		return fmt.Errorf("rate_period must be positive")
	}
	if c.Gateway.BatchSize <= 0 || c.Gateway.BatchSize > 100 {
		return fmt.Errorf("batch_size must be in (0,100], got %d", c.Gateway.BatchSize)
	}
	if c.Gateway.Fanout <= 0 {
		return fmt.Errorf("fanout must be positive")
	}
	if c.Gateway.ParkFailureRatio <= 0 || c.Gateway.ParkFailureRatio > 1 {
		return fmt.Errorf("park_failure_ratio must be in (0,1]")
	}
	return nil
}

func (c *Config) validateConsensus() error {
	if c.Consensus.Measurements <= 0 {
		return fmt.Errorf("measurements must be positive")
	}
	if c.Consensus.Quorum <= 0 || c.Consensus.Quorum > c.Consensus.Measurements {
		return fmt.Errorf("quorum must be in [1, measurements], got %d of %d",
			c.Consensus.Quorum, c.Consensus.Measurements)
	}
	if c.Consensus.OutlierSigma <= 0 {
		return fmt.Errorf("outlier_sigma must be positive")
	}
	if c.Consensus.Spacing < 0 {
		return fmt.Errorf("spacing cannot be negative")
	}
	return nil
}

func (c *Config) validateSampling() error {
	if c.Sampling.VolumeBuckets <= 0 {
		return fmt.Errorf("volume_buckets must be positive")
	}
	if c.Sampling.BucketSampleSize <= 0 {
		return fmt.Errorf("bucket_sample_size must be positive")
	}
	if c.Sampling.MinSampleSize <= 0 {
		return fmt.Errorf("min_sample_size must be positive")
	}
	if c.Sampling.PageLimit <= 0 || c.Sampling.PageLimit > 1000 {
		return fmt.Errorf("page_limit must be in (0,1000], got %d", c.Sampling.PageLimit)
	}
	if c.Sampling.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be positive")
	}
	return nil
}

func (c *Config) validatePricing() error {
	if len(c.Pricing.AMMPrograms) == 0 {
		return fmt.Errorf("at least one amm program required")
	}
	if c.Pricing.MinLiquidityUSD < 0 {
		return fmt.Errorf("min_liquidity_usd cannot be negative")
	}
	if c.Pricing.FullWeightLiquidityUSD < c.Pricing.MinLiquidityUSD {
		return fmt.Errorf("full_weight_liquidity_usd below min_liquidity_usd")
	}
	if c.Pricing.TWAPMaxDeviation <= 0 || c.Pricing.TWAPMaxDeviation >= 1 {
		return fmt.Errorf("twap_max_deviation must be in (0,1)")
	}
	if c.Pricing.BootstrapMaxDivergence <= 0 || c.Pricing.BootstrapMaxDivergence >= 1 {
		return fmt.Errorf("bootstrap_max_divergence must be in (0,1)")
	}
	return nil
}

func (c *Config) validateConfidence() error {
	sum := c.Confidence.DataQualityWeight + c.Confidence.PriceReliabilityWeight +
		c.Confidence.FreshnessWeight + c.Confidence.CoverageWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("weights must sum to 1.0, got %.4f", sum)
	}
	t := c.Confidence
	if !(t.DelayThreshold < t.FlagThreshold && t.FlagThreshold < t.ResolveThreshold) {
		return fmt.Errorf("thresholds must satisfy delay < flag < resolve")
	}
	if t.DelayThreshold <= 0 || t.ResolveThreshold > 1 {
		return fmt.Errorf("thresholds must be in (0,1]")
	}
	return nil
}

func (c *Config) validateBreaker() error {
	if c.Breaker.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold >= 1 {
		return fmt.Errorf("failure_threshold must be in (0,1)")
	}
	if c.Breaker.MinCalls <= 0 {
		return fmt.Errorf("min_calls must be positive")
	}
	if c.Breaker.Stabilization < 0 {
		return fmt.Errorf("stabilization cannot be negative")
	}
	return nil
}

func (c *Config) validateJournal() error {
	switch c.Journal.Backend {
	case "memory":
	case "postgres":
		if c.Journal.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Journal.Backend)
	}
	return nil
}
