package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletwatch/internal/domain"
)

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	out, outcome, err := Retry(context.Background(), 3, time.Millisecond, func(context.Context) (int, domain.Outcome, error) {
		calls++
		if calls == 1 {
			return 0, domain.OutcomeRetryable, errors.New("blip")
		}
		return 42, domain.OutcomeResolved, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, domain.OutcomeResolved, outcome)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanentOutcome(t *testing.T) {
	calls := 0
	_, outcome, err := Retry(context.Background(), 3, time.Millisecond, func(context.Context) (int, domain.Outcome, error) {
		calls++
		return 0, domain.OutcomePermanent, errors.New("not found")
	})

	require.Error(t, err)
	assert.Equal(t, domain.OutcomePermanent, outcome)
	assert.Equal(t, 1, calls, "permanent failures must not be retried")
}

func TestRetryGivesUpAfterBound(t *testing.T) {
	calls := 0
	_, outcome, err := Retry(context.Background(), 3, time.Millisecond, func(context.Context) (int, domain.Outcome, error) {
		calls++
		return 0, domain.OutcomeRetryable, errors.New("still down")
	})

	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRetryable, outcome)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := Retry(ctx, 5, time.Hour, func(context.Context) (int, domain.Outcome, error) {
		calls++
		cancel()
		return 0, domain.OutcomeRetryable, errors.New("blip")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation must cut the backoff sleep short")
}
