// Package config defines the top-level configuration for the flasharb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLASHARB_* environment variables. A
// Config is immutable for the lifetime of a running instance.
type Config struct {
	Scanner  ScannerConfig  `toml:"scanner"`
	Risk     RiskConfig     `toml:"risk"`
	Engine   EngineConfig   `toml:"engine"`
	Health   HealthConfig   `toml:"health"`
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig identifies one quote venue. Endpoint is the REST quote URL;
// when WSEndpoint is set the venue is consumed over a streaming connection
// instead of per-cycle polling.
type VenueConfig struct {
	Name       string `toml:"name"`
	Endpoint   string `toml:"endpoint"`
	WSEndpoint string `toml:"ws_endpoint"`
}

// ScannerConfig holds the opportunity scanner parameters.
type ScannerConfig struct {
	Pairs        []string      `toml:"pairs"`
	Venues       []VenueConfig `toml:"venues"`
	Interval     duration      `toml:"interval"`
	ErrorBackoff duration      `toml:"error_backoff"`
	QuoteTimeout duration      `toml:"quote_timeout"`
	// MinProfitUSD is the inclusive net-profit floor for emitting an
	// opportunity.
	MinProfitUSD        float64  `toml:"min_profit_usd"`
	LiquidityBaseline   float64  `toml:"liquidity_baseline"`
	VolumeCap           float64  `toml:"volume_cap"`
	OpportunityTTL      duration `toml:"opportunity_ttl"`
	HistorySize         int      `toml:"history_size"`
	NativeTokenPriceUSD float64  `toml:"native_token_price_usd"`
}

// RiskConfig holds every risk threshold and circuit-breaker limit.
type RiskConfig struct {
	MaxPositionUSD  float64  `toml:"max_position_usd"`
	MinConfidence   float64  `toml:"min_confidence"`
	MaxSlippageBps  float64  `toml:"max_slippage_bps"`
	MaxGasPriceGwei float64  `toml:"max_gas_price_gwei"`
	Cooldown        duration `toml:"cooldown"`
	MaxDailyLossUSD float64  `toml:"max_daily_loss_usd"`
	// MinMarginPct is the profit margin below which an opportunity accrues
	// risk score without being rejected outright.
	MinMarginPct float64 `toml:"min_margin_pct"`

	ConsecutiveLossLimit int      `toml:"consecutive_loss_limit"`
	RapidLossLimit       int      `toml:"rapid_loss_limit"`
	RapidLossWindow      duration `toml:"rapid_loss_window"`
	MinSuccessRate       float64  `toml:"min_success_rate"`
	SuccessRateMinTrades int      `toml:"success_rate_min_trades"`

	ExecutionBudget duration `toml:"execution_budget"`
	StopLossPct     float64  `toml:"stop_loss_pct"`
}

// EngineConfig holds execution-engine parameters.
type EngineConfig struct {
	MaxConcurrent        int64   `toml:"max_concurrent"`
	LoanCapUSD           float64 `toml:"loan_cap_usd"`
	FallbackGasBudgetUSD float64 `toml:"fallback_gas_budget_usd"`
	// DeadlineSlack is added to the current time to form the on-chain trade
	// deadline encoded into the settlement callback params.
	DeadlineSlack duration `toml:"deadline_slack"`
}

// HealthConfig holds health-monitor parameters.
type HealthConfig struct {
	Interval         duration `toml:"interval"`
	FailureThreshold int      `toml:"failure_threshold"`
	MinFreeMemoryMB  uint64   `toml:"min_free_memory_mb"`
	MinFreeDiskMB    uint64   `toml:"min_free_disk_mb"`
	DiskPath         string   `toml:"disk_path"`
	MaxRPCLatency    duration `toml:"max_rpc_latency"`
	AlertRingSize    int      `toml:"alert_ring_size"`
}

// ChainConfig holds RPC and contract addresses for the lending/settlement
// facility.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	LendingPool         string   `toml:"lending_pool"`
	Asset               string   `toml:"asset"`
	AssetDecimals       int      `toml:"asset_decimals"`
	SettlementContract  string   `toml:"settlement_contract"`
	MinSignerBalanceETH float64  `toml:"min_signer_balance_eth"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
}

// WalletConfig holds signer key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit stores.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the quote cache and the
// audit event stream.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for cold-storage
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds control-surface HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "3s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented default values.
func Defaults() Config {
	return Config{
		Scanner: ScannerConfig{
			Pairs: []string{"WETH/USDC"},
			Venues: []VenueConfig{
				{Name: "uniswap", Endpoint: "http://localhost:8081/quote"},
				{Name: "sushiswap", Endpoint: "http://localhost:8082/quote"},
			},
			Interval:            duration{3 * time.Second},
			ErrorBackoff:        duration{5 * time.Second},
			QuoteTimeout:        duration{2 * time.Second},
			MinProfitUSD:        10.0,
			LiquidityBaseline:   100.0,
			VolumeCap:           10.0,
			OpportunityTTL:      duration{30 * time.Second},
			HistorySize:         100,
			NativeTokenPriceUSD: 2500.0,
		},
		Risk: RiskConfig{
			MaxPositionUSD:       25_000.0,
			MinConfidence:        60.0,
			MaxSlippageBps:       500.0,
			MaxGasPriceGwei:      150.0,
			Cooldown:             duration{10 * time.Second},
			MaxDailyLossUSD:      500.0,
			MinMarginPct:         0.5,
			ConsecutiveLossLimit: 3,
			RapidLossLimit:       5,
			RapidLossWindow:      duration{5 * time.Minute},
			MinSuccessRate:       0.5,
			SuccessRateMinTrades: 10,
			ExecutionBudget:      duration{60 * time.Second},
			StopLossPct:          0.95,
		},
		Engine: EngineConfig{
			MaxConcurrent:        3,
			LoanCapUSD:           100_000.0,
			FallbackGasBudgetUSD: 50.0,
			DeadlineSlack:        duration{2 * time.Minute},
		},
		Health: HealthConfig{
			Interval:         duration{30 * time.Second},
			FailureThreshold: 5,
			MinFreeMemoryMB:  256,
			MinFreeDiskMB:    512,
			DiskPath:         "/",
			MaxRPCLatency:    duration{2 * time.Second},
			AlertRingSize:    100,
		},
		Chain: ChainConfig{
			RPCURL:              "http://localhost:8545",
			ChainID:             1,
			AssetDecimals:       6,
			MinSignerBalanceETH: 0.05,
			ReceiptPollInterval: duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "flasharb",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-archive",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{"emergency_stop", "execution_complete", "agent_error"},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true, // scan + risk + execute
	"scan":   true, // detect and record only, no execution
	"server": true, // control surface only
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Validation is fail-fast at
// construction: a running instance never re-reads configuration.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, scan, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Scanner
	if len(c.Scanner.Pairs) == 0 {
		errs = append(errs, "scanner: at least one pair must be configured")
	}
	if len(c.Scanner.Venues) < 2 {
		errs = append(errs, fmt.Sprintf("scanner: at least two venues are required, got %d", len(c.Scanner.Venues)))
	}
	seen := map[string]bool{}
	for i, v := range c.Scanner.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("scanner: venue %d has no name", i))
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("scanner: duplicate venue name %q", v.Name))
		}
		seen[v.Name] = true
		if v.Endpoint == "" && v.WSEndpoint == "" {
			errs = append(errs, fmt.Sprintf("scanner: venue %q has neither endpoint nor ws_endpoint", v.Name))
		}
	}
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.QuoteTimeout.Duration <= 0 {
		errs = append(errs, "scanner: quote_timeout must be > 0")
	}
	if c.Scanner.QuoteTimeout.Duration >= c.Scanner.Interval.Duration {
		errs = append(errs, "scanner: quote_timeout must be shorter than interval")
	}
	if c.Scanner.OpportunityTTL.Duration <= 0 {
		errs = append(errs, "scanner: opportunity_ttl must be > 0")
	}
	if c.Scanner.LiquidityBaseline <= 0 {
		errs = append(errs, "scanner: liquidity_baseline must be > 0")
	}
	if c.Scanner.VolumeCap <= 0 {
		errs = append(errs, "scanner: volume_cap must be > 0")
	}
	if c.Scanner.NativeTokenPriceUSD <= 0 {
		errs = append(errs, "scanner: native_token_price_usd must be > 0")
	}

	// Risk
	if c.Risk.MaxPositionUSD <= 0 {
		errs = append(errs, "risk: max_position_usd must be > 0")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 100 {
		errs = append(errs, fmt.Sprintf("risk: min_confidence must be 0-100, got %g", c.Risk.MinConfidence))
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk: max_daily_loss_usd must be > 0")
	}
	if c.Risk.ConsecutiveLossLimit < 1 {
		errs = append(errs, "risk: consecutive_loss_limit must be >= 1")
	}
	if c.Risk.RapidLossLimit < 1 {
		errs = append(errs, "risk: rapid_loss_limit must be >= 1")
	}
	if c.Risk.RapidLossWindow.Duration <= 0 {
		errs = append(errs, "risk: rapid_loss_window must be > 0")
	}
	if c.Risk.MinSuccessRate <= 0 || c.Risk.MinSuccessRate >= 1 {
		errs = append(errs, fmt.Sprintf("risk: min_success_rate must be in (0,1), got %g", c.Risk.MinSuccessRate))
	}
	if c.Risk.SuccessRateMinTrades < 1 {
		errs = append(errs, "risk: success_rate_min_trades must be >= 1")
	}
	if c.Risk.ExecutionBudget.Duration <= 0 {
		errs = append(errs, "risk: execution_budget must be > 0")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		errs = append(errs, fmt.Sprintf("risk: stop_loss_pct must be in (0,1), got %g", c.Risk.StopLossPct))
	}

	// Engine
	if c.Engine.MaxConcurrent < 1 {
		errs = append(errs, "engine: max_concurrent must be >= 1")
	}
	if c.Engine.LoanCapUSD <= 0 {
		errs = append(errs, "engine: loan_cap_usd must be > 0")
	}
	if c.Engine.FallbackGasBudgetUSD <= 0 {
		errs = append(errs, "engine: fallback_gas_budget_usd must be > 0")
	}

	// Health
	if c.Health.Interval.Duration <= 0 {
		errs = append(errs, "health: interval must be > 0")
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, "health: failure_threshold must be >= 1")
	}

	// Chain settings are required for executing modes.
	if c.Mode == "full" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required for mode full")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.LendingPool == "" {
			errs = append(errs, "chain: lending_pool is required for mode full")
		}
		if c.Chain.Asset == "" {
			errs = append(errs, "chain: asset is required for mode full")
		}
		if c.Chain.SettlementContract == "" {
			errs = append(errs, "chain: settlement_contract is required for mode full")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode full")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Postgres is only checked when a connection is configured.
	if c.Postgres.DSN == "" && c.Postgres.Host != "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
