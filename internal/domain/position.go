package domain

import "time"

// PositionStatus tracks whether a wallet still holds the token or has exited.
type PositionStatus string

const (
	PositionStatusHolding PositionStatus = "holding"
	PositionStatusSold    PositionStatus = "sold"
)

// Position is the authoritative record of one wallet's trading position in one
// token. Identity is (WalletAddress, TokenAddress); a pair with no Position
// record is implicitly untracked.
type Position struct {
	ID            int64
	WalletAddress string
	TokenAddress  string
	TokenSymbol   string
	Status        PositionStatus

	// Cost basis. EntryPrice is the USD-weighted average across buys of the
	// current cycle; EntryMarketCap is the token market cap at first buy.
	EntryPrice     float64
	EntryMarketCap float64

	TotalBoughtUSD float64
	TotalSoldUSD   float64
	BuyCount       int
	SellCount      int

	// Exit fields, set only while Status is sold.
	ExitPrice       *float64
	ExitMarketCap   *float64
	IsEstimatedExit bool

	// Latest observed market data, refreshed by the free PnL pass.
	CurrentPrice     *float64
	CurrentMarketCap *float64
	PnLRatio         *float64
	FPnLRatio        *float64

	// NeedsReconcile marks a position whose last transfer was recorded
	// without a resolvable USD value.
	NeedsReconcile bool

	// Tracked is cleared by manual untrack; untracked positions keep their
	// history but are excluded from scheduler polling.
	Tracked bool

	// LastSignature is the most recently applied transaction signature,
	// the ledger's dedup layer beneath the gateway's own dedup.
	LastSignature string

	OpenedAt      time.Time
	ExitAt        *time.Time
	LastCheckedAt *time.Time
}

// RealizedPnL returns the exit/entry price ratio for a sold position.
// The boolean is false when the position is still holding or lacks prices.
func (p Position) RealizedPnL() (float64, bool) {
	if p.Status != PositionStatusSold || p.ExitPrice == nil || p.EntryPrice <= 0 {
		return 0, false
	}
	return *p.ExitPrice / p.EntryPrice, true
}

// UnrealizedPnL returns the current/entry price ratio for a holding position.
func (p Position) UnrealizedPnL(currentPrice float64) (float64, bool) {
	if p.Status != PositionStatusHolding || p.EntryPrice <= 0 || currentPrice <= 0 {
		return 0, false
	}
	return currentPrice / p.EntryPrice, true
}

// FumbledPnL returns current/entry market cap for a sold position: what the
// position would be worth had it not been sold.
func (p Position) FumbledPnL(currentMarketCap float64) (float64, bool) {
	if p.Status != PositionStatusSold || p.EntryMarketCap <= 0 || currentMarketCap <= 0 {
		return 0, false
	}
	return currentMarketCap / p.EntryMarketCap, true
}

// PhantomSale reports whether the position violates the cumulative-sold
// invariant: marked sold without a priced sell ever recorded.
func (p Position) PhantomSale() bool {
	return p.Status == PositionStatusSold && (p.TotalSoldUSD <= 0 || p.SellCount == 0)
}

// ClosedCycle is the frozen realized outcome of one holding→sold cycle,
// appended when a sold position re-enters so cross-cycle accounting never
// mixes cost bases.
type ClosedCycle struct {
	ID              int64
	PositionID      int64
	WalletAddress   string
	TokenAddress    string
	EntryPrice      float64
	ExitPrice       float64
	EntryMarketCap  float64
	ExitMarketCap   *float64
	TotalBoughtUSD  float64
	TotalSoldUSD    float64
	RealizedPnL     float64 // exit/entry price ratio
	IsEstimatedExit bool
	OpenedAt        time.Time
	ClosedAt        time.Time
}

// PositionStats aggregates position counts for the control surface.
type PositionStats struct {
	Total            int64
	Holding          int64
	Sold             int64
	NeedsReconcile   int64
	Untracked        int64
	CreditsUsedToday int
}

// WalletSummary aggregates one wallet's track record across tokens.
type WalletSummary struct {
	WalletAddress string
	TokenCount    int
	OpenPositions int
	ClosedCycles  int
	WinRate       *float64 // share of closed cycles with realized pnl > 1
	AvgRealized   *float64
}
