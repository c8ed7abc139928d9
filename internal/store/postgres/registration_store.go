package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"walletwatch/internal/domain"
)

// RegistrationStore persists our record of provider-side webhook registrations.
type RegistrationStore struct {
	pool *pgxpool.Pool
}

// NewRegistrationStore creates a new RegistrationStore.
func NewRegistrationStore(pool *pgxpool.Pool) *RegistrationStore {
	return &RegistrationStore{pool: pool}
}

// Save inserts or replaces a registration record keyed by provider id.
func (s *RegistrationStore) Save(ctx context.Context, reg domain.WebhookRegistration) error {
	const query = `
		INSERT INTO webhook_registrations (id, url, addresses, tx_types, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			url       = EXCLUDED.url,
			addresses = EXCLUDED.addresses,
			tx_types  = EXCLUDED.tx_types`

	createdAt := reg.CreatedAt
	_, err := s.pool.Exec(ctx, query, reg.ID, reg.URL, reg.Addresses, reg.TxTypes, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: save webhook registration %s: %w", reg.ID, err)
	}
	return nil
}

// List returns all known registrations.
func (s *RegistrationStore) List(ctx context.Context) ([]domain.WebhookRegistration, error) {
	const query = `SELECT id, url, addresses, tx_types, created_at FROM webhook_registrations ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list webhook registrations: %w", err)
	}
	defer rows.Close()

	var regs []domain.WebhookRegistration
	for rows.Next() {
		var r domain.WebhookRegistration
		if err := rows.Scan(&r.ID, &r.URL, &r.Addresses, &r.TxTypes, &r.CreatedAt); err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

// Delete removes a registration record.
func (s *RegistrationStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_registrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete webhook registration %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
