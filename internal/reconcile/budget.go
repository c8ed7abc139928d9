package reconcile

import (
	"context"
	"time"

	"walletwatch/internal/domain"
)

// dayFormat keys the budget counter by UTC calendar day; the budget resets at
// UTC midnight by construction.
const dayFormat = "2006-01-02"

// Budget meters provider credit spend against a daily cap.
type Budget struct {
	store domain.BudgetStore
}

// NewBudget creates a Budget over the given store.
func NewBudget(store domain.BudgetStore) *Budget {
	return &Budget{store: store}
}

// Reserve attempts to spend n credits from today's budget. It returns false
// without error when the reservation would exceed limit.
func (b *Budget) Reserve(ctx context.Context, n, limit int) (bool, error) {
	return b.store.Reserve(ctx, today(), n, limit)
}

// UsedToday returns the credits consumed so far today.
func (b *Budget) UsedToday(ctx context.Context) (int, error) {
	return b.store.Used(ctx, today())
}

func today() string {
	return time.Now().UTC().Format(dayFormat)
}
