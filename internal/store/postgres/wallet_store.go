package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"walletwatch/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// RecordEarlyBuyer marks wallet as an early buyer of tokenAddress. Repeated
// calls are idempotent and keep the earliest observation.
func (s *WalletStore) RecordEarlyBuyer(ctx context.Context, wallet, tokenAddress string, firstBuyAt time.Time) error {
	const query = `
		INSERT INTO early_buyers (wallet_address, token_address, first_buy_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_address, token_address) DO UPDATE SET
			first_buy_at = LEAST(early_buyers.first_buy_at, EXCLUDED.first_buy_at)`

	_, err := s.pool.Exec(ctx, query, wallet, tokenAddress, firstBuyAt)
	if err != nil {
		return fmt.Errorf("postgres: record early buyer %s/%s: %w", wallet, tokenAddress, err)
	}
	return nil
}

// DistinctTokenCount returns how many distinct tracked tokens the wallet
// bought early.
func (s *WalletStore) DistinctTokenCount(ctx context.Context, wallet string) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT eb.token_address)
		FROM early_buyers eb
		JOIN tokens t ON t.address = eb.token_address AND t.tracked
		WHERE eb.wallet_address = $1`

	var n int
	if err := s.pool.QueryRow(ctx, query, wallet).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: distinct token count for %s: %w", wallet, err)
	}
	return n, nil
}

// GateEligible returns wallets that bought early into at least minTokenCount
// distinct tracked tokens.
func (s *WalletStore) GateEligible(ctx context.Context, minTokenCount int) ([]string, error) {
	const query = `
		SELECT eb.wallet_address
		FROM early_buyers eb
		JOIN tokens t ON t.address = eb.token_address AND t.tracked
		GROUP BY eb.wallet_address
		HAVING COUNT(DISTINCT eb.token_address) >= $1
		ORDER BY eb.wallet_address`

	rows, err := s.pool.Query(ctx, query, minTokenCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: gate eligible wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// Summaries aggregates per-wallet track records across positions and cycles.
func (s *WalletStore) Summaries(ctx context.Context) ([]domain.WalletSummary, error) {
	const query = `
		SELECT
			p.wallet_address,
			COUNT(DISTINCT p.token_address),
			COUNT(*) FILTER (WHERE p.status = 'holding'),
			COALESCE(cc.cycles, 0),
			cc.win_rate,
			cc.avg_realized
		FROM positions p
		LEFT JOIN (
			SELECT wallet_address,
				COUNT(*) AS cycles,
				AVG(CASE WHEN realized_pnl > 1 THEN 1.0 ELSE 0.0 END) AS win_rate,
				AVG(realized_pnl) AS avg_realized
			FROM closed_cycles
			GROUP BY wallet_address
		) cc ON cc.wallet_address = p.wallet_address
		GROUP BY p.wallet_address, cc.cycles, cc.win_rate, cc.avg_realized
		ORDER BY p.wallet_address`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: wallet summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletSummary
	for rows.Next() {
		var w domain.WalletSummary
		if err := rows.Scan(
			&w.WalletAddress, &w.TokenCount, &w.OpenPositions,
			&w.ClosedCycles, &w.WinRate, &w.AvgRealized,
		); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
