package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletwatch/internal/domain"
)

// ClosedCycleStore implements domain.ClosedCycleStore using PostgreSQL.
type ClosedCycleStore struct {
	pool *pgxpool.Pool
}

// NewClosedCycleStore creates a new ClosedCycleStore.
func NewClosedCycleStore(pool *pgxpool.Pool) *ClosedCycleStore {
	return &ClosedCycleStore{pool: pool}
}

// Insert appends a completed cycle. The table is append-only.
func (s *ClosedCycleStore) Insert(ctx context.Context, c domain.ClosedCycle) error {
	const query = `
		INSERT INTO closed_cycles (
			position_id, wallet_address, token_address,
			entry_price, exit_price, entry_market_cap, exit_market_cap,
			total_bought_usd, total_sold_usd, realized_pnl, is_estimated_exit,
			opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		c.PositionID, c.WalletAddress, c.TokenAddress,
		c.EntryPrice, c.ExitPrice, c.EntryMarketCap, c.ExitMarketCap,
		c.TotalBoughtUSD, c.TotalSoldUSD, c.RealizedPnL, c.IsEstimatedExit,
		c.OpenedAt, c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert closed cycle for position %d: %w", c.PositionID, err)
	}
	return nil
}

// ListByWallet returns a wallet's cycles, most recently closed first.
func (s *ClosedCycleStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.ClosedCycle, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, position_id, wallet_address, token_address,
			entry_price, exit_price, entry_market_cap, exit_market_cap,
			total_bought_usd, total_sold_usd, realized_pnl, is_estimated_exit,
			opened_at, closed_at
		FROM closed_cycles
		WHERE wallet_address = $1
		ORDER BY closed_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, wallet, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed cycles for %s: %w", wallet, err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

// ListSince returns cycles closed at or after the given time, used by the
// nightly snapshot archiver.
func (s *ClosedCycleStore) ListSince(ctx context.Context, since time.Time) ([]domain.ClosedCycle, error) {
	const query = `
		SELECT id, position_id, wallet_address, token_address,
			entry_price, exit_price, entry_market_cap, exit_market_cap,
			total_bought_usd, total_sold_usd, realized_pnl, is_estimated_exit,
			opened_at, closed_at
		FROM closed_cycles
		WHERE closed_at >= $1
		ORDER BY closed_at ASC`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed cycles since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

func collectCycles(rows pgx.Rows) ([]domain.ClosedCycle, error) {
	var cycles []domain.ClosedCycle
	for rows.Next() {
		var c domain.ClosedCycle
		if err := rows.Scan(
			&c.ID, &c.PositionID, &c.WalletAddress, &c.TokenAddress,
			&c.EntryPrice, &c.ExitPrice, &c.EntryMarketCap, &c.ExitMarketCap,
			&c.TotalBoughtUSD, &c.TotalSoldUSD, &c.RealizedPnL, &c.IsEstimatedExit,
			&c.OpenedAt, &c.ClosedAt,
		); err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
