// Package testkit provides in-memory store and cache implementations for
// package tests.
package testkit

import (
	"context"
	"sort"
	"sync"
	"time"

	"walletwatch/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Position
	// UpdatedAt orders reconcile candidates like the SQL store does.
	updatedAt map[int64]time.Time
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		nextID:    1,
		rows:      map[int64]domain.Position{},
		updatedAt: map[int64]time.Time{},
	}
}

func (s *PositionStore) Create(_ context.Context, pos domain.Position) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.WalletAddress == pos.WalletAddress && r.TokenAddress == pos.TokenAddress {
			return 0, domain.ErrAlreadyExists
		}
	}
	id := s.nextID
	s.nextID++
	pos.ID = id
	s.rows[id] = pos
	s.updatedAt[id] = time.Now()
	return id, nil
}

func (s *PositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.rows[pos.ID] = pos
	s.updatedAt[pos.ID] = time.Now()
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id int64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *PositionStore) Get(_ context.Context, wallet, tokenAddress string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.rows {
		if p.WalletAddress == wallet && p.TokenAddress == tokenAddress {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *PositionStore) List(_ context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if f.WalletAddress != "" && p.WalletAddress != f.WalletAddress {
			continue
		}
		if f.TokenAddress != "" && p.TokenAddress != f.TokenAddress {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.TrackedOnly && !p.Tracked {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if f.Offset > 0 && f.Offset < len(out) {
		out = out[f.Offset:]
	} else if f.Offset >= len(out) {
		out = nil
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *PositionStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if !p.Tracked {
			continue
		}
		if p.LastCheckedAt == nil || p.LastCheckedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastCheckedAt, out[j].LastCheckedAt
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PositionStore) ListReconcileCandidates(_ context.Context, tokenAddress string, limit int) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if !p.Tracked {
			continue
		}
		if tokenAddress != "" && p.TokenAddress != tokenAddress {
			continue
		}
		if p.NeedsReconcile || p.PhantomSale() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.updatedAt[out[i].ID].Before(s.updatedAt[out[j].ID])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PositionStore) Stats(_ context.Context) (domain.PositionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.PositionStats
	for _, p := range s.rows {
		st.Total++
		switch p.Status {
		case domain.PositionStatusHolding:
			st.Holding++
		case domain.PositionStatusSold:
			st.Sold++
		}
		if p.NeedsReconcile || p.PhantomSale() {
			st.NeedsReconcile++
		}
		if !p.Tracked {
			st.Untracked++
		}
	}
	return st, nil
}

// ClosedCycleStore is an in-memory domain.ClosedCycleStore.
type ClosedCycleStore struct {
	mu     sync.Mutex
	Cycles []domain.ClosedCycle
}

// NewClosedCycleStore creates an empty ClosedCycleStore.
func NewClosedCycleStore() *ClosedCycleStore {
	return &ClosedCycleStore{}
}

func (s *ClosedCycleStore) Insert(_ context.Context, c domain.ClosedCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = int64(len(s.Cycles) + 1)
	s.Cycles = append(s.Cycles, c)
	return nil
}

func (s *ClosedCycleStore) ListByWallet(_ context.Context, wallet string, opts domain.ListOpts) ([]domain.ClosedCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ClosedCycle
	for _, c := range s.Cycles {
		if c.WalletAddress == wallet {
			out = append(out, c)
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *ClosedCycleStore) ListSince(_ context.Context, since time.Time) ([]domain.ClosedCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ClosedCycle
	for _, c := range s.Cycles {
		if !c.ClosedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// WalletStore is an in-memory domain.WalletStore.
type WalletStore struct {
	mu     sync.Mutex
	buyers map[string]map[string]time.Time // wallet -> token -> first buy
}

// NewWalletStore creates an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{buyers: map[string]map[string]time.Time{}}
}

func (s *WalletStore) RecordEarlyBuyer(_ context.Context, wallet, tokenAddress string, firstBuyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buyers[wallet] == nil {
		s.buyers[wallet] = map[string]time.Time{}
	}
	if cur, ok := s.buyers[wallet][tokenAddress]; !ok || firstBuyAt.Before(cur) {
		s.buyers[wallet][tokenAddress] = firstBuyAt
	}
	return nil
}

func (s *WalletStore) DistinctTokenCount(_ context.Context, wallet string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buyers[wallet]), nil
}

func (s *WalletStore) GateEligible(_ context.Context, minTokenCount int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for w, tokens := range s.buyers {
		if len(tokens) >= minTokenCount {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *WalletStore) Summaries(context.Context) ([]domain.WalletSummary, error) {
	return nil, nil
}

// AuditStore records audit events in memory.
type AuditStore struct {
	mu     sync.Mutex
	Events []string
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, event)
	return nil
}

// SignalBus records published payloads in memory.
type SignalBus struct {
	mu       sync.Mutex
	Messages [][]byte
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{}
}

func (s *SignalBus) Publish(_ context.Context, _ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, payload)
	return nil
}
