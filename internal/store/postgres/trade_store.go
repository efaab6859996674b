package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vantrace/flasharb/internal/domain"
)

// TradeStore persists execution outcomes. It implements domain.TradeStore.
type TradeStore struct {
	client *Client
}

// NewTradeStore binds a store to the shared client.
func NewTradeStore(client *Client) *TradeStore {
	return &TradeStore{client: client}
}

const tradeColumns = `opportunity_id, success, profit, gas_cost, tx_hash, error, duration_ms, completed_at`

// Insert stores one trade result.
func (s *TradeStore) Insert(ctx context.Context, res domain.TradeResult) error {
	_, err := s.client.Pool().Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		res.OpportunityID, res.Success, res.Profit, res.GasCost,
		nullable(res.TxHash), nullable(res.Err),
		res.Duration.Milliseconds(), res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade for %s: %w", res.OpportunityID, err)
	}
	return nil
}

// ListRecent returns the newest trades first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeResult, error) {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListBefore returns trades completed strictly before the cutoff, oldest
// first, for archival.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeResult, error) {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE completed_at < $1
		ORDER BY completed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// DailyPnL sums profit minus gas for trades completed on the given UTC
// calendar day.
func (s *TradeStore) DailyPnL(ctx context.Context, day time.Time) (float64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var pnl float64
	err := s.client.Pool().QueryRow(ctx, `
		SELECT COALESCE(SUM(profit - gas_cost), 0)
		FROM trades
		WHERE completed_at >= $1 AND completed_at < $2`, start, end).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("postgres: daily pnl for %s: %w", start.Format("2006-01-02"), err)
	}
	return pnl, nil
}

func scanTrades(rows pgx.Rows) ([]domain.TradeResult, error) {
	var out []domain.TradeResult
	for rows.Next() {
		var (
			res        domain.TradeResult
			txHash     *string
			errMsg     *string
			durationMS int64
		)
		err := rows.Scan(
			&res.OpportunityID, &res.Success, &res.Profit, &res.GasCost,
			&txHash, &errMsg, &durationMS, &res.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		if txHash != nil {
			res.TxHash = *txHash
		}
		if errMsg != nil {
			res.Err = *errMsg
		}
		res.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, res)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: iterate trades: %w", err)
	}
	return out, nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.TradeStore = (*TradeStore)(nil)
