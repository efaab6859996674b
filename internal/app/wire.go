package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vantrace/flasharb/internal/blob/s3"
	rediscache "github.com/vantrace/flasharb/internal/cache/redis"
	"github.com/vantrace/flasharb/internal/chain"
	"github.com/vantrace/flasharb/internal/config"
	"github.com/vantrace/flasharb/internal/crypto"
	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/engine"
	"github.com/vantrace/flasharb/internal/health"
	"github.com/vantrace/flasharb/internal/notify"
	"github.com/vantrace/flasharb/internal/orchestrator"
	"github.com/vantrace/flasharb/internal/risk"
	"github.com/vantrace/flasharb/internal/scanner"
	"github.com/vantrace/flasharb/internal/server"
	"github.com/vantrace/flasharb/internal/store/postgres"
	"github.com/vantrace/flasharb/internal/venue"
)

// Dependencies holds every constructed component plus the close functions to
// run on shutdown, in reverse construction order.
type Dependencies struct {
	Chain        *chain.Client
	Redis        *rediscache.Client
	Postgres     *postgres.Client
	QuoteCache   domain.QuoteCache
	EventBus     domain.EventBus
	Opps         domain.OpportunityStore
	Trades       domain.TradeStore
	Archiver     *s3.Archiver
	WSQuoters    []*venue.WSQuoter
	Scanner      *scanner.Scanner
	Evaluator    *risk.Evaluator
	Engine       *engine.Engine
	Monitor      *health.Monitor
	Notifier     *notify.Manager
	Orchestrator *orchestrator.Orchestrator
	Server       *server.Server

	closers []func()
}

// Close tears components down in reverse construction order.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// Wire constructs the dependency graph for the configured mode. Infrastructure
// that is not configured (no Redis address, no Postgres host, no S3 bucket) is
// skipped; the pipeline degrades to logging-only audit.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	mode := cfg.Mode

	// Redis: quote cache and audit event stream.
	if cfg.Redis.Addr != "" {
		rc, err := rediscache.New(ctx, rediscache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache and event stream",
				slog.String("error", err.Error()))
		} else {
			deps.Redis = rc
			deps.QuoteCache = rediscache.NewQuoteCache(rc)
			deps.EventBus = rediscache.NewEventBus(rc, cfg.Redis.StreamMaxLen)
			deps.closers = append(deps.closers, func() { _ = rc.Close() })
		}
	}

	// Postgres: audit stores.
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pc, err := postgres.New(ctx, postgres.Config{
			DSN:          cfg.Postgres.DSN,
			Host:         cfg.Postgres.Host,
			Port:         cfg.Postgres.Port,
			Database:     cfg.Postgres.Database,
			User:         cfg.Postgres.User,
			Password:     cfg.Postgres.Password,
			SSLMode:      cfg.Postgres.SSLMode,
			PoolMaxConns: cfg.Postgres.PoolMaxConns,
			PoolMinConns: cfg.Postgres.PoolMinConns,
		}, logger)
		if err != nil {
			logger.Warn("postgres unavailable, continuing without audit stores",
				slog.String("error", err.Error()))
		} else {
			deps.Postgres = pc
			deps.closers = append(deps.closers, pc.Close)
			if cfg.Postgres.RunMigrations {
				if err := pc.Migrate(ctx); err != nil {
					deps.Close()
					return nil, err
				}
			}
			deps.Opps = postgres.NewOpportunityStore(pc)
			deps.Trades = postgres.NewTradeStore(pc)
		}
	}

	// S3 archiver rides on the Postgres stores.
	if cfg.S3.Bucket != "" && deps.Opps != nil {
		blob, err := s3.New(ctx, s3.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		}, logger)
		if err != nil {
			logger.Warn("object storage unavailable, archival disabled",
				slog.String("error", err.Error()))
		} else {
			deps.Archiver = s3.NewArchiver(blob, deps.Opps, deps.Trades, cfg.S3.RetentionDays, logger)
		}
	}

	// Chain client: gas oracle and health probe for scanning modes, signer
	// for execution.
	var signerKey string
	if mode == "full" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("app: resolve signer key: %w", err)
		}
		signerKey = key
	}

	chainClient, err := chain.New(ctx, chain.ClientConfig{
		RPCURL:        cfg.Chain.RPCURL,
		ChainID:       cfg.Chain.ChainID,
		PrivateKeyHex: signerKey,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("app: chain client: %w", err)
	}
	deps.Chain = chainClient
	deps.closers = append(deps.closers, chainClient.Close)

	// Venue quoters: streaming where a feed is configured, polling otherwise.
	quoters := make([]scanner.Quoter, 0, len(cfg.Scanner.Venues))
	for _, v := range cfg.Scanner.Venues {
		if v.WSEndpoint != "" {
			ws := venue.NewWSQuoter(v.Name, v.WSEndpoint, cfg.Scanner.Pairs, logger)
			deps.WSQuoters = append(deps.WSQuoters, ws)
			quoters = append(quoters, ws)
			continue
		}
		quoters = append(quoters, venue.NewHTTPQuoter(v.Name, v.Endpoint, cfg.Scanner.QuoteTimeout.Duration))
	}

	deps.Scanner = scanner.New(scanner.Config{
		Pairs:               cfg.Scanner.Pairs,
		Interval:            cfg.Scanner.Interval.Duration,
		ErrorBackoff:        cfg.Scanner.ErrorBackoff.Duration,
		QuoteTimeout:        cfg.Scanner.QuoteTimeout.Duration,
		MinProfitUSD:        cfg.Scanner.MinProfitUSD,
		LiquidityBaseline:   cfg.Scanner.LiquidityBaseline,
		VolumeCap:           cfg.Scanner.VolumeCap,
		OpportunityTTL:      cfg.Scanner.OpportunityTTL.Duration,
		HistorySize:         cfg.Scanner.HistorySize,
		NativeTokenPriceUSD: cfg.Scanner.NativeTokenPriceUSD,
	}, quoters, chainClient, deps.QuoteCache, deps.EventBus, logger)

	deps.Evaluator = risk.New(risk.Config{
		MaxPositionUSD:       cfg.Risk.MaxPositionUSD,
		MinConfidence:        cfg.Risk.MinConfidence,
		MaxSlippageBps:       cfg.Risk.MaxSlippageBps,
		MaxGasPriceGwei:      cfg.Risk.MaxGasPriceGwei,
		Cooldown:             cfg.Risk.Cooldown.Duration,
		MaxDailyLossUSD:      cfg.Risk.MaxDailyLossUSD,
		MinMarginPct:         cfg.Risk.MinMarginPct,
		ConsecutiveLossLimit: cfg.Risk.ConsecutiveLossLimit,
		RapidLossLimit:       cfg.Risk.RapidLossLimit,
		RapidLossWindow:      cfg.Risk.RapidLossWindow.Duration,
		MinSuccessRate:       cfg.Risk.MinSuccessRate,
		SuccessRateMinTrades: cfg.Risk.SuccessRateMinTrades,
		ExecutionBudget:      cfg.Risk.ExecutionBudget.Duration,
		StopLossPct:          cfg.Risk.StopLossPct,
	}, risk.NewState(), logger)

	// Execution engine only in full mode; scan and server deployments never
	// submit transactions.
	if mode == "full" {
		lender, err := chain.NewFlashLender(chainClient, chain.LenderConfig{
			Pool:                common.HexToAddress(cfg.Chain.LendingPool),
			Settlement:          common.HexToAddress(cfg.Chain.SettlementContract),
			Asset:               common.HexToAddress(cfg.Chain.Asset),
			AssetDecimals:       cfg.Chain.AssetDecimals,
			EthPriceUSD:         cfg.Scanner.NativeTokenPriceUSD,
			ReceiptPollInterval: cfg.Chain.ReceiptPollInterval.Duration,
		}, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("app: flash lender: %w", err)
		}
		deps.Engine = engine.New(engine.Config{
			MaxConcurrent:        cfg.Engine.MaxConcurrent,
			LoanCapUSD:           cfg.Engine.LoanCapUSD,
			FallbackGasBudgetUSD: cfg.Engine.FallbackGasBudgetUSD,
			DeadlineSlack:        cfg.Engine.DeadlineSlack.Duration,
		}, lender, deps.EventBus, logger)
	}

	checks := []health.Check{
		&health.RPCCheck{Pinger: chainClient, MaxLatency: cfg.Health.MaxRPCLatency.Duration},
		&health.MemoryCheck{MinFreeMB: cfg.Health.MinFreeMemoryMB},
		&health.DiskCheck{Path: cfg.Health.DiskPath, MinFreeMB: cfg.Health.MinFreeDiskMB},
	}
	for _, v := range cfg.Scanner.Venues {
		if v.Endpoint == "" {
			continue
		}
		checks = append(checks, &health.EndpointCheck{
			CheckName: "venue_" + v.Name,
			URL:       v.Endpoint,
		})
	}

	deps.Monitor = health.New(health.Config{
		Interval:         cfg.Health.Interval.Duration,
		FailureThreshold: cfg.Health.FailureThreshold,
		AlertRingSize:    cfg.Health.AlertRingSize,
	}, checks, deps.EventBus, logger)

	var notifiers []notify.Notifier
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		notifiers = append(notifiers, notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notify.NewDiscord(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewManager(notifiers, cfg.Notify.Events, logger)

	deps.Orchestrator = orchestrator.New(orchestrator.Config{
		Mode:                mode,
		DrainTimeout:        cfg.Risk.ExecutionBudget.Duration + 30*time.Second,
		MinSignerBalanceETH: cfg.Chain.MinSignerBalanceETH,
	}, deps.Scanner, deps.Evaluator, deps.Engine, deps.Monitor,
		deps.Opps, deps.Trades, deps.Notifier, chainClient, logger)

	if cfg.Server.Enabled {
		handler := server.NewHandler(ctx, deps.Orchestrator, deps.Evaluator, logger)
		deps.Server = server.New(server.Config{
			Port:   cfg.Server.Port,
			APIKey: cfg.Server.APIKey,
		}, handler, logger)
	}

	return deps, nil
}
