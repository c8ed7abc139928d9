package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrDuplicateEvent  = errors.New("duplicate transfer event")
	ErrBudgetExhausted = errors.New("daily credit budget exhausted")
	ErrStalePrice      = errors.New("cached price is stale")
	ErrNotTracked      = errors.New("wallet/token pair is not tracked")
	ErrContextDone     = errors.New("context cancelled")
)
