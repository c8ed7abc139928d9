// Package platform holds helpers shared by the external API clients.
package platform

import (
	"context"
	"time"

	"walletwatch/internal/domain"
)

// Retry runs fn up to attempts times, sleeping base, 2*base, 4*base between
// tries. It stops early on success, on a permanent outcome, or when ctx is
// done, and returns the last result. Only retryable outcomes are retried;
// callers decide what to do with a unit that stays unresolved.
func Retry[T any](ctx context.Context, attempts int, base time.Duration, fn func(context.Context) (T, domain.Outcome, error)) (T, domain.Outcome, error) {
	var (
		out     T
		outcome domain.Outcome
		err     error
	)

	delay := base
	for i := 0; i < attempts; i++ {
		out, outcome, err = fn(ctx)
		if err == nil || outcome != domain.OutcomeRetryable {
			return out, outcome, err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, outcome, err
		case <-timer.C:
		}
		delay *= 2
	}
	return out, outcome, err
}
