package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLASHARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLASHARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Pairs, "FLASHARB_SCANNER_PAIRS")
	setDuration(&cfg.Scanner.Interval, "FLASHARB_SCANNER_INTERVAL")
	setDuration(&cfg.Scanner.ErrorBackoff, "FLASHARB_SCANNER_ERROR_BACKOFF")
	setDuration(&cfg.Scanner.QuoteTimeout, "FLASHARB_SCANNER_QUOTE_TIMEOUT")
	setFloat64(&cfg.Scanner.MinProfitUSD, "FLASHARB_SCANNER_MIN_PROFIT_USD")
	setFloat64(&cfg.Scanner.LiquidityBaseline, "FLASHARB_SCANNER_LIQUIDITY_BASELINE")
	setFloat64(&cfg.Scanner.VolumeCap, "FLASHARB_SCANNER_VOLUME_CAP")
	setDuration(&cfg.Scanner.OpportunityTTL, "FLASHARB_SCANNER_OPPORTUNITY_TTL")
	setFloat64(&cfg.Scanner.NativeTokenPriceUSD, "FLASHARB_SCANNER_NATIVE_TOKEN_PRICE_USD")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionUSD, "FLASHARB_RISK_MAX_POSITION_USD")
	setFloat64(&cfg.Risk.MinConfidence, "FLASHARB_RISK_MIN_CONFIDENCE")
	setFloat64(&cfg.Risk.MaxSlippageBps, "FLASHARB_RISK_MAX_SLIPPAGE_BPS")
	setFloat64(&cfg.Risk.MaxGasPriceGwei, "FLASHARB_RISK_MAX_GAS_PRICE_GWEI")
	setDuration(&cfg.Risk.Cooldown, "FLASHARB_RISK_COOLDOWN")
	setFloat64(&cfg.Risk.MaxDailyLossUSD, "FLASHARB_RISK_MAX_DAILY_LOSS_USD")
	setFloat64(&cfg.Risk.MinMarginPct, "FLASHARB_RISK_MIN_MARGIN_PCT")
	setInt(&cfg.Risk.ConsecutiveLossLimit, "FLASHARB_RISK_CONSECUTIVE_LOSS_LIMIT")
	setInt(&cfg.Risk.RapidLossLimit, "FLASHARB_RISK_RAPID_LOSS_LIMIT")
	setDuration(&cfg.Risk.RapidLossWindow, "FLASHARB_RISK_RAPID_LOSS_WINDOW")
	setFloat64(&cfg.Risk.MinSuccessRate, "FLASHARB_RISK_MIN_SUCCESS_RATE")
	setDuration(&cfg.Risk.ExecutionBudget, "FLASHARB_RISK_EXECUTION_BUDGET")

	// ── Engine ──
	setInt64(&cfg.Engine.MaxConcurrent, "FLASHARB_ENGINE_MAX_CONCURRENT")
	setFloat64(&cfg.Engine.LoanCapUSD, "FLASHARB_ENGINE_LOAN_CAP_USD")
	setFloat64(&cfg.Engine.FallbackGasBudgetUSD, "FLASHARB_ENGINE_FALLBACK_GAS_BUDGET_USD")

	// ── Health ──
	setDuration(&cfg.Health.Interval, "FLASHARB_HEALTH_INTERVAL")
	setInt(&cfg.Health.FailureThreshold, "FLASHARB_HEALTH_FAILURE_THRESHOLD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FLASHARB_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FLASHARB_CHAIN_ID")
	setStr(&cfg.Chain.LendingPool, "FLASHARB_CHAIN_LENDING_POOL")
	setStr(&cfg.Chain.Asset, "FLASHARB_CHAIN_ASSET")
	setInt(&cfg.Chain.AssetDecimals, "FLASHARB_CHAIN_ASSET_DECIMALS")
	setStr(&cfg.Chain.SettlementContract, "FLASHARB_CHAIN_SETTLEMENT_CONTRACT")
	setFloat64(&cfg.Chain.MinSignerBalanceETH, "FLASHARB_CHAIN_MIN_SIGNER_BALANCE_ETH")
	setDuration(&cfg.Chain.ReceiptPollInterval, "FLASHARB_CHAIN_RECEIPT_POLL_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FLASHARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLASHARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLASHARB_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLASHARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLASHARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLASHARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLASHARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLASHARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLASHARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLASHARB_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "FLASHARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLASHARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHARB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "FLASHARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLASHARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHARB_S3_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLASHARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLASHARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLASHARB_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLASHARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLASHARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FLASHARB_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLASHARB_MODE")
	setStr(&cfg.LogLevel, "FLASHARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
