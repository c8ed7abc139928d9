package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletwatch/internal/domain"
)

// TokenStore implements domain.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Upsert inserts or refreshes a token record keyed by address.
func (s *TokenStore) Upsert(ctx context.Context, t domain.Token) error {
	const query = `
		INSERT INTO tokens (address, symbol, name, tracked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			symbol  = EXCLUDED.symbol,
			name    = EXCLUDED.name,
			tracked = EXCLUDED.tracked`

	_, err := s.pool.Exec(ctx, query, t.Address, t.Symbol, t.Name, t.Tracked)
	if err != nil {
		return fmt.Errorf("postgres: upsert token %s: %w", t.Address, err)
	}
	return nil
}

// GetByAddress fetches a token by address.
func (s *TokenStore) GetByAddress(ctx context.Context, address string) (domain.Token, error) {
	const query = `SELECT address, symbol, name, tracked, created_at FROM tokens WHERE address = $1`

	var t domain.Token
	err := s.pool.QueryRow(ctx, query, address).Scan(
		&t.Address, &t.Symbol, &t.Name, &t.Tracked, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("postgres: get token %s: %w", address, err)
	}
	return t, nil
}

// ListTracked returns the monitored token set.
func (s *TokenStore) ListTracked(ctx context.Context) ([]domain.Token, error) {
	const query = `SELECT address, symbol, name, tracked, created_at FROM tokens WHERE tracked ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		var t domain.Token
		if err := rows.Scan(&t.Address, &t.Symbol, &t.Name, &t.Tracked, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
