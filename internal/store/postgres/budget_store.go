package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BudgetStore tracks external API credits consumed per UTC day.
type BudgetStore struct {
	pool *pgxpool.Pool
}

// NewBudgetStore creates a new BudgetStore.
func NewBudgetStore(pool *pgxpool.Pool) *BudgetStore {
	return &BudgetStore{pool: pool}
}

// Reserve atomically adds n credits to the day's counter if and only if the
// result stays within limit. The single statement is the whole critical
// section; concurrent reservations serialize on the row.
func (s *BudgetStore) Reserve(ctx context.Context, day string, n, limit int) (bool, error) {
	const query = `
		INSERT INTO budget_days (day, credits_used, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (day) DO UPDATE SET
			credits_used = budget_days.credits_used + EXCLUDED.credits_used,
			updated_at   = NOW()
		WHERE budget_days.credits_used + EXCLUDED.credits_used <= $3
		RETURNING credits_used`

	var used int
	err := s.pool.QueryRow(ctx, query, day, n, limit).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: reserve %d credits for %s: %w", n, day, err)
	}

	// A fresh row bypasses the conflict clause, so enforce the limit here too.
	if used > limit {
		if _, rbErr := s.pool.Exec(ctx,
			`UPDATE budget_days SET credits_used = credits_used - $2 WHERE day = $1`,
			day, n,
		); rbErr != nil {
			return false, fmt.Errorf("postgres: release over-limit reservation for %s: %w", day, rbErr)
		}
		return false, nil
	}
	return true, nil
}

// Used returns the credits consumed so far on day.
func (s *BudgetStore) Used(ctx context.Context, day string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT credits_used FROM budget_days WHERE day = $1`, day,
	).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: budget used for %s: %w", day, err)
	}
	return used, nil
}
