package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vantrace/flasharb/internal/domain"
)

// OpportunityStore persists detected opportunities. It implements
// domain.OpportunityStore.
type OpportunityStore struct {
	client *Client
}

// NewOpportunityStore binds a store to the shared client.
func NewOpportunityStore(client *Client) *OpportunityStore {
	return &OpportunityStore{client: client}
}

const opportunityColumns = `id, pair, buy_venue, sell_venue, buy_price, sell_price,
	volume, liquidity, gas_estimate, gas_price_gwei, gas_cost_usd,
	gross_profit, net_profit, profit_pct, confidence, detected_at, ttl_ms, executed`

// Insert stores one detected opportunity. Re-inserting the same id is a no-op
// so scanner retries after transient store errors stay safe.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.client.Pool().Exec(ctx, `
		INSERT INTO opportunities (`+opportunityColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID, opp.Pair, opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice,
		opp.Volume, opp.Liquidity, int64(opp.GasEstimate), opp.GasPriceGwei, opp.GasCostUSD,
		opp.GrossProfit, opp.NetProfit, opp.ProfitPct, opp.Confidence,
		opp.DetectedAt, opp.TTL.Milliseconds(), opp.Executed,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted flags the opportunity after its single execution attempt.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	tag, err := s.client.Pool().Exec(ctx,
		`UPDATE opportunities SET executed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark executed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the newest opportunities first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT `+opportunityColumns+`
		FROM opportunities
		ORDER BY detected_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// ListBefore returns opportunities detected strictly before the cutoff,
// oldest first, for archival.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT `+opportunityColumns+`
		FROM opportunities
		WHERE detected_at < $1
		ORDER BY detected_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for rows.Next() {
		var (
			opp         domain.Opportunity
			gasEstimate int64
			ttlMS       int64
		)
		err := rows.Scan(
			&opp.ID, &opp.Pair, &opp.BuyVenue, &opp.SellVenue, &opp.BuyPrice, &opp.SellPrice,
			&opp.Volume, &opp.Liquidity, &gasEstimate, &opp.GasPriceGwei, &opp.GasCostUSD,
			&opp.GrossProfit, &opp.NetProfit, &opp.ProfitPct, &opp.Confidence,
			&opp.DetectedAt, &ttlMS, &opp.Executed,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.GasEstimate = uint64(gasEstimate)
		opp.TTL = time.Duration(ttlMS) * time.Millisecond
		out = append(out, opp)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: iterate opportunities: %w", err)
	}
	return out, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
