package testkit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"walletwatch/internal/domain"
)

// TokenStore is an in-memory domain.TokenStore.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]domain.Token
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: map[string]domain.Token{}}
}

func (s *TokenStore) Upsert(_ context.Context, t domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tokens[t.Address] = t
	return nil
}

func (s *TokenStore) GetByAddress(_ context.Context, address string) (domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[address]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *TokenStore) ListTracked(context.Context) ([]domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Token
	for _, t := range s.tokens {
		if t.Tracked {
			out = append(out, t)
		}
	}
	return out, nil
}

// SettingsStore is an in-memory domain.SettingsStore.
type SettingsStore struct {
	mu       sync.Mutex
	Settings domain.Settings
}

// NewSettingsStore creates a SettingsStore seeded with defaults.
func NewSettingsStore() *SettingsStore {
	s := domain.DefaultSettings()
	s.Version = 1
	return &SettingsStore{Settings: s}
}

func (s *SettingsStore) Get(context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Settings, nil
}

func (s *SettingsStore) Update(_ context.Context, upd domain.Settings) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.Version != s.Settings.Version {
		return domain.Settings{}, domain.ErrAlreadyExists
	}
	upd.Version++
	upd.UpdatedAt = time.Now()
	s.Settings = upd
	return upd, nil
}

// BudgetStore is an in-memory domain.BudgetStore.
type BudgetStore struct {
	mu   sync.Mutex
	used map[string]int
}

// NewBudgetStore creates an empty BudgetStore.
func NewBudgetStore() *BudgetStore {
	return &BudgetStore{used: map[string]int{}}
}

func (s *BudgetStore) Reserve(_ context.Context, day string, n, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used[day]+n > limit {
		return false, nil
	}
	s.used[day] += n
	return true, nil
}

func (s *BudgetStore) Used(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[day], nil
}

// RegistrationStore is an in-memory domain.RegistrationStore.
type RegistrationStore struct {
	mu   sync.Mutex
	regs map[string]domain.WebhookRegistration
}

// NewRegistrationStore creates an empty RegistrationStore.
func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{regs: map[string]domain.WebhookRegistration{}}
}

func (s *RegistrationStore) Save(_ context.Context, reg domain.WebhookRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg.ID] = reg
	return nil
}

func (s *RegistrationStore) List(context.Context) ([]domain.WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WebhookRegistration
	for _, r := range s.regs {
		out = append(out, r)
	}
	return out, nil
}

func (s *RegistrationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.regs, id)
	return nil
}

// DedupSet is an in-memory domain.DedupSet.
type DedupSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewDedupSet creates an empty DedupSet.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: map[string]bool{}}
}

func (s *DedupSet) FirstSeen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

// LockManager is an in-memory domain.LockManager.
type LockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: map[string]bool{}}
}

func (s *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] {
		return nil, domain.ErrLockHeld
	}
	s.held[key] = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.held, key)
	}, nil
}

// RateLimiter is a domain.RateLimiter fake that admits every call and counts
// them per key.
type RateLimiter struct {
	mu         sync.Mutex
	AllowCalls map[string]int
	WaitCalls  map[string]int
}

// NewRateLimiter creates a RateLimiter fake.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		AllowCalls: map[string]int{},
		WaitCalls:  map[string]int{},
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.AllowCalls[key]++
	return true, nil
}

func (rl *RateLimiter) Wait(_ context.Context, key string, _ int, _ time.Duration) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.WaitCalls[key]++
	return nil
}

// PriceCache is an in-memory domain.PriceCache fake.
type PriceCache struct {
	mu sync.Mutex
	// Prices maps token address to its cached reading.
	Prices map[string]domain.TokenPrice
	// BatchCalls counts GetPrices invocations.
	BatchCalls int
	// Err forces every read to fail when non-nil.
	Err error
}

// NewPriceCache creates an empty PriceCache fake.
func NewPriceCache() *PriceCache {
	return &PriceCache{Prices: map[string]domain.TokenPrice{}}
}

func (c *PriceCache) SetPrice(_ context.Context, tokenAddress string, p domain.TokenPrice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Prices[tokenAddress] = p
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, tokenAddress string) (domain.TokenPrice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return domain.TokenPrice{}, c.Err
	}
	p, ok := c.Prices[tokenAddress]
	if !ok {
		return domain.TokenPrice{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *PriceCache) GetPrices(_ context.Context, tokenAddresses []string) (map[string]domain.TokenPrice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BatchCalls++
	if c.Err != nil {
		return nil, c.Err
	}
	out := make(map[string]domain.TokenPrice, len(tokenAddresses))
	for _, addr := range tokenAddresses {
		if p, ok := c.Prices[addr]; ok {
			out[addr] = p
		}
	}
	return out, nil
}

// PriceOracle is a configurable domain.PriceOracle fake.
type PriceOracle struct {
	mu sync.Mutex
	// Prices maps token address to its reading.
	Prices map[string]domain.TokenPrice
	// Outcomes overrides the per-token lookup outcome; defaults to retryable
	// for unknown tokens.
	Outcomes map[string]domain.Outcome
	// Calls counts lookups per token.
	Calls map[string]int
	// Delay simulates a slow oracle when non-zero.
	Delay time.Duration
}

// NewPriceOracle creates an empty PriceOracle fake.
func NewPriceOracle() *PriceOracle {
	return &PriceOracle{
		Prices:   map[string]domain.TokenPrice{},
		Outcomes: map[string]domain.Outcome{},
		Calls:    map[string]int{},
	}
}

func (o *PriceOracle) GetPrice(ctx context.Context, tokenAddress string) (domain.TokenPrice, domain.Outcome, error) {
	o.mu.Lock()
	o.Calls[tokenAddress]++
	delay := o.Delay
	o.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return domain.TokenPrice{}, domain.OutcomeRetryable, ctx.Err()
		case <-time.After(delay):
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.Prices[tokenAddress]; ok {
		return p, domain.OutcomeResolved, nil
	}
	outcome, ok := o.Outcomes[tokenAddress]
	if !ok {
		outcome = domain.OutcomeRetryable
	}
	return domain.TokenPrice{}, outcome, domain.ErrNotFound
}

// ChainHistory is a configurable domain.ChainHistory fake.
type ChainHistory struct {
	mu sync.Mutex
	// Transactions maps wallet address to its history, newest first.
	Transactions map[string][]domain.WalletTransaction
	// Err forces every lookup to fail with the given outcome when non-nil.
	Err        error
	ErrOutcome domain.Outcome
	// Cost is the per-call credit cost.
	Cost int
	// Calls counts lookups per wallet.
	Calls map[string]int
}

// NewChainHistory creates an empty ChainHistory fake with a credit cost of 1.
func NewChainHistory() *ChainHistory {
	return &ChainHistory{
		Transactions: map[string][]domain.WalletTransaction{},
		Cost:         1,
		Calls:        map[string]int{},
	}
}

func (h *ChainHistory) RecentTransactions(_ context.Context, wallet string, limit int) ([]domain.WalletTransaction, domain.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls[wallet]++
	if h.Err != nil {
		return nil, h.ErrOutcome, h.Err
	}
	txs := h.Transactions[wallet]
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, domain.OutcomeResolved, nil
}

func (h *ChainHistory) CreditCost() int {
	return h.Cost
}

// WebhookRegistrar is an in-memory domain.WebhookRegistrar.
type WebhookRegistrar struct {
	mu     sync.Mutex
	nextID int
	Regs   map[string]domain.WebhookRegistration
}

// NewWebhookRegistrar creates an empty WebhookRegistrar.
func NewWebhookRegistrar() *WebhookRegistrar {
	return &WebhookRegistrar{nextID: 1, Regs: map[string]domain.WebhookRegistration{}}
}

func (r *WebhookRegistrar) CreateWebhook(_ context.Context, url string, addresses []string, txTypes []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := "wh-" + strconv.Itoa(r.nextID)
	r.nextID++
	r.Regs[id] = domain.WebhookRegistration{
		ID:        id,
		URL:       url,
		Addresses: append([]string(nil), addresses...),
		TxTypes:   append([]string(nil), txTypes...),
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (r *WebhookRegistrar) ListWebhooks(context.Context) ([]domain.WebhookRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookRegistration
	for _, reg := range r.Regs {
		out = append(out, reg)
	}
	return out, nil
}

func (r *WebhookRegistrar) DeleteWebhook(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Regs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.Regs, id)
	return nil
}
