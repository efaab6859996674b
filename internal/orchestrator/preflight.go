package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ChainProbe is the subset of the chain client the orchestrator needs for
// preflight and recovery decisions.
type ChainProbe interface {
	Ping(ctx context.Context) (time.Duration, error)
	SignerBalanceETH(ctx context.Context) (float64, error)
	GasPriceGwei(ctx context.Context) (float64, error)
}

// preflight verifies the system is fit to trade before any loop starts. It is
// fail-closed: any probe error aborts startup, no partial pipeline ever runs.
func (o *Orchestrator) preflight(ctx context.Context) error {
	if o.chain == nil {
		// Scan-only deployments carry no chain dependency; there is nothing
		// to verify beyond configuration, which was validated at load.
		o.logger.Info("preflight passed", slog.String("mode", o.cfg.Mode))
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	latency, err := o.chain.Ping(probeCtx)
	if err != nil {
		return fmt.Errorf("orchestrator: preflight rpc probe: %w", err)
	}

	gasGwei, err := o.chain.GasPriceGwei(probeCtx)
	if err != nil {
		return fmt.Errorf("orchestrator: preflight gas reading: %w", err)
	}

	if o.engine != nil {
		balance, err := o.chain.SignerBalanceETH(probeCtx)
		if err != nil {
			return fmt.Errorf("orchestrator: preflight signer balance: %w", err)
		}
		if balance < o.cfg.MinSignerBalanceETH {
			return fmt.Errorf("orchestrator: preflight: signer balance %.4f ETH below floor %.4f ETH",
				balance, o.cfg.MinSignerBalanceETH)
		}
		o.logger.Info("preflight passed",
			slog.String("mode", o.cfg.Mode),
			slog.Duration("rpc_latency", latency),
			slog.Float64("gas_gwei", gasGwei),
			slog.Float64("signer_balance_eth", balance),
		)
		return nil
	}

	o.logger.Info("preflight passed",
		slog.String("mode", o.cfg.Mode),
		slog.Duration("rpc_latency", latency),
		slog.Float64("gas_gwei", gasGwei),
	)
	return nil
}
