package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletwatch/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, wallet_address, token_address, token_symbol, status,
	entry_price, entry_market_cap, total_bought_usd, total_sold_usd,
	buy_count, sell_count, exit_price, exit_market_cap, is_estimated_exit,
	current_price, current_market_cap, pnl_ratio, fpnl_ratio,
	needs_reconcile, tracked, last_signature, opened_at, exit_at, last_checked_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.WalletAddress, &p.TokenAddress, &p.TokenSymbol, &status,
		&p.EntryPrice, &p.EntryMarketCap, &p.TotalBoughtUSD, &p.TotalSoldUSD,
		&p.BuyCount, &p.SellCount, &p.ExitPrice, &p.ExitMarketCap, &p.IsEstimatedExit,
		&p.CurrentPrice, &p.CurrentMarketCap, &p.PnLRatio, &p.FPnLRatio,
		&p.NeedsReconcile, &p.Tracked, &p.LastSignature, &p.OpenedAt, &p.ExitAt, &p.LastCheckedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position and returns its generated id.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) (int64, error) {
	const query = `
		INSERT INTO positions (
			wallet_address, token_address, token_symbol, status,
			entry_price, entry_market_cap, total_bought_usd, total_sold_usd,
			buy_count, sell_count, exit_price, exit_market_cap, is_estimated_exit,
			current_price, current_market_cap, pnl_ratio, fpnl_ratio,
			needs_reconcile, tracked, last_signature, opened_at, exit_at, last_checked_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23,
			NOW()
		)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		p.WalletAddress, p.TokenAddress, p.TokenSymbol, string(p.Status),
		p.EntryPrice, p.EntryMarketCap, p.TotalBoughtUSD, p.TotalSoldUSD,
		p.BuyCount, p.SellCount, p.ExitPrice, p.ExitMarketCap, p.IsEstimatedExit,
		p.CurrentPrice, p.CurrentMarketCap, p.PnLRatio, p.FPnLRatio,
		p.NeedsReconcile, p.Tracked, p.LastSignature, p.OpenedAt, p.ExitAt, p.LastCheckedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create position %s/%s: %w", p.WalletAddress, p.TokenAddress, err)
	}
	return id, nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			token_symbol       = $2,
			status             = $3,
			entry_price        = $4,
			entry_market_cap   = $5,
			total_bought_usd   = $6,
			total_sold_usd     = $7,
			buy_count          = $8,
			sell_count         = $9,
			exit_price         = $10,
			exit_market_cap    = $11,
			is_estimated_exit  = $12,
			current_price      = $13,
			current_market_cap = $14,
			pnl_ratio          = $15,
			fpnl_ratio         = $16,
			needs_reconcile    = $17,
			tracked            = $18,
			last_signature     = $19,
			opened_at          = $20,
			exit_at            = $21,
			last_checked_at    = $22,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.TokenSymbol, string(p.Status),
		p.EntryPrice, p.EntryMarketCap,
		p.TotalBoughtUSD, p.TotalSoldUSD,
		p.BuyCount, p.SellCount,
		p.ExitPrice, p.ExitMarketCap, p.IsEstimatedExit,
		p.CurrentPrice, p.CurrentMarketCap, p.PnLRatio, p.FPnLRatio,
		p.NeedsReconcile, p.Tracked, p.LastSignature,
		p.OpenedAt, p.ExitAt, p.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a position by primary key.
func (s *PositionStore) GetByID(ctx context.Context, id int64) (domain.Position, error) {
	query := fmt.Sprintf("SELECT %s FROM positions WHERE id = $1", positionSelectCols)

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// Get fetches the position for a (wallet, token) pair.
func (s *PositionStore) Get(ctx context.Context, wallet, tokenAddress string) (domain.Position, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM positions WHERE wallet_address = $1 AND token_address = $2",
		positionSelectCols,
	)

	p, err := scanPosition(s.pool.QueryRow(ctx, query, wallet, tokenAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", wallet, tokenAddress, err)
	}
	return p, nil
}

// List returns positions matching the filter, most recently opened first.
func (s *PositionStore) List(ctx context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	query := fmt.Sprintf("SELECT %s FROM positions WHERE 1=1", positionSelectCols)
	args := []any{}
	i := 1

	if f.WalletAddress != "" {
		query += fmt.Sprintf(" AND wallet_address = $%d", i)
		args = append(args, f.WalletAddress)
		i++
	}
	if f.TokenAddress != "" {
		query += fmt.Sprintf(" AND token_address = $%d", i)
		args = append(args, f.TokenAddress)
		i++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, string(f.Status))
		i++
	}
	if f.TrackedOnly {
		query += " AND tracked"
	}

	query += " ORDER BY opened_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", i)
		args = append(args, f.Limit)
		i++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", i)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return collectPositions(rows)
}

// ListStale returns tracked positions whose last check is nil or older than
// cutoff, oldest first.
func (s *PositionStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM positions
		WHERE tracked AND (last_checked_at IS NULL OR last_checked_at < $1)
		ORDER BY last_checked_at ASC NULLS FIRST
		LIMIT $2`, positionSelectCols)

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stale positions: %w", err)
	}
	return collectPositions(rows)
}

// ListReconcileCandidates returns tracked positions that are phantom sales or
// flagged for reconciliation, oldest unresolved first. tokenAddress may be
// empty to scan all tokens.
func (s *PositionStore) ListReconcileCandidates(ctx context.Context, tokenAddress string, limit int) ([]domain.Position, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM positions
		WHERE tracked
		  AND (needs_reconcile OR (status = 'sold' AND (total_sold_usd <= 0 OR sell_count = 0)))`,
		positionSelectCols)
	args := []any{}
	i := 1

	if tokenAddress != "" {
		query += fmt.Sprintf(" AND token_address = $%d", i)
		args = append(args, tokenAddress)
		i++
	}
	query += fmt.Sprintf(" ORDER BY updated_at ASC LIMIT $%d", i)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reconcile candidates: %w", err)
	}
	return collectPositions(rows)
}

// Stats aggregates position counts for the control surface. Credits used are
// filled in by the caller.
func (s *PositionStore) Stats(ctx context.Context) (domain.PositionStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'holding'),
			COUNT(*) FILTER (WHERE status = 'sold'),
			COUNT(*) FILTER (WHERE needs_reconcile OR (status = 'sold' AND (total_sold_usd <= 0 OR sell_count = 0))),
			COUNT(*) FILTER (WHERE NOT tracked)
		FROM positions`

	var st domain.PositionStats
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.Total, &st.Holding, &st.Sold, &st.NeedsReconcile, &st.Untracked,
	)
	if err != nil {
		return domain.PositionStats{}, fmt.Errorf("postgres: position stats: %w", err)
	}
	return st, nil
}
