package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"walletwatch/internal/domain"
)

// SettingsStore implements domain.SettingsStore against the single settings row.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the current settings record.
func (s *SettingsStore) Get(ctx context.Context) (domain.Settings, error) {
	const query = `
		SELECT auto_check_enabled, check_interval_minutes, stale_threshold_minutes,
			daily_credit_budget, min_token_count, max_signatures, max_positions_per_run,
			version, updated_at
		FROM settings WHERE id = 1`

	var out domain.Settings
	err := s.pool.QueryRow(ctx, query).Scan(
		&out.AutoCheckEnabled, &out.CheckIntervalMinutes, &out.StaleThresholdMinutes,
		&out.DailyCreditBudget, &out.MinTokenCount, &out.MaxSignatures, &out.MaxPositionsPerRun,
		&out.Version, &out.UpdatedAt,
	)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}
	return out, nil
}

// Update persists sUpd with an optimistic version check, returning the stored
// row with its bumped version. A stale version yields domain.ErrAlreadyExists.
func (s *SettingsStore) Update(ctx context.Context, sUpd domain.Settings) (domain.Settings, error) {
	const query = `
		UPDATE settings SET
			auto_check_enabled      = $2,
			check_interval_minutes  = $3,
			stale_threshold_minutes = $4,
			daily_credit_budget     = $5,
			min_token_count         = $6,
			max_signatures          = $7,
			max_positions_per_run   = $8,
			version                 = version + 1,
			updated_at              = NOW()
		WHERE id = 1 AND version = $1
		RETURNING auto_check_enabled, check_interval_minutes, stale_threshold_minutes,
			daily_credit_budget, min_token_count, max_signatures, max_positions_per_run,
			version, updated_at`

	var out domain.Settings
	err := s.pool.QueryRow(ctx, query,
		sUpd.Version,
		sUpd.AutoCheckEnabled, sUpd.CheckIntervalMinutes, sUpd.StaleThresholdMinutes,
		sUpd.DailyCreditBudget, sUpd.MinTokenCount, sUpd.MaxSignatures, sUpd.MaxPositionsPerRun,
	).Scan(
		&out.AutoCheckEnabled, &out.CheckIntervalMinutes, &out.StaleThresholdMinutes,
		&out.DailyCreditBudget, &out.MinTokenCount, &out.MaxSignatures, &out.MaxPositionsPerRun,
		&out.Version, &out.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return domain.Settings{}, domain.ErrAlreadyExists
		}
		return domain.Settings{}, fmt.Errorf("postgres: update settings: %w", err)
	}
	return out, nil
}
