package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// Defaults target local development; mode full additionally needs chain
	// addresses and a signer, so validate the scan profile.
	cfg.Mode = "scan"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateFullModeRequiresChainAndWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lending_pool")
	assert.Contains(t, err.Error(), "settlement_contract")
	assert.Contains(t, err.Error(), "wallet")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	cfg.Scanner.Pairs = nil
	cfg.Scanner.Venues = cfg.Scanner.Venues[:1]
	cfg.Risk.MaxPositionUSD = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one pair")
	assert.Contains(t, err.Error(), "at least two venues")
	assert.Contains(t, err.Error(), "max_position_usd")
}

func TestLoadParsesDurationsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "scan"

[scanner]
pairs = ["WETH/USDC", "WBTC/USDC"]
interval = "7s"
quote_timeout = "1500ms"
min_profit_usd = 25.0

[chain]
asset_decimals = 18
receipt_poll_interval = "500ms"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("FLASHARB_RISK_MAX_DAILY_LOSS_USD", "750")
	t.Setenv("FLASHARB_SCANNER_INTERVAL", "9s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, []string{"WETH/USDC", "WBTC/USDC"}, cfg.Scanner.Pairs)
	assert.Equal(t, 9*time.Second, cfg.Scanner.Interval.Duration, "env override wins over file")
	assert.Equal(t, 1500*time.Millisecond, cfg.Scanner.QuoteTimeout.Duration)
	assert.InDelta(t, 25.0, cfg.Scanner.MinProfitUSD, 1e-9)
	assert.InDelta(t, 750.0, cfg.Risk.MaxDailyLossUSD, 1e-9)
	assert.Equal(t, 18, cfg.Chain.AssetDecimals)
	assert.Equal(t, 500*time.Millisecond, cfg.Chain.ReceiptPollInterval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Risk.ConsecutiveLossLimit)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval.Duration)
}
