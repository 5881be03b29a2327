// Package store defines the persistence interface for the bet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/model"
)

var (
	// ErrNotFound is returned when a market, bet, or account does not
	// exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by CommitSettlement when the market version
	// changed since the snapshot was read. The caller retries with fresh
	// state.
	ErrConflict = errors.New("store: market version conflict")

	// ErrDuplicateRequest is returned by CommitSettlement when a bet with
	// the same request id was already committed. The earlier commit won;
	// replaying must not settle twice.
	ErrDuplicateRequest = errors.New("store: bet request already settled")

	// ErrInsufficientFunds is returned by CommitSettlement when the debit
	// would push the balance negative. Balances never go below zero.
	ErrInsufficientFunds = errors.New("store: insufficient funds for debit")
)

// PositionDelta carries the increments for one position upsert. The store
// applies weighted-average accumulation: shares and invested are added to
// the existing row (or create it) and avgPrice is recomputed as
// totalInvested / shares.
type PositionDelta struct {
	UserID   string
	MarketID string
	Outcome  string
	Shares   decimal.Decimal
	Invested decimal.Decimal
}

// SettlementBatch is the full set of effects of one settled bet. The six
// effects — market pool/prices/volume, bet record, balance debit, position
// upsert, ledger entry, price-history point — succeed together or not at
// all. The market write is keyed by ExpectedVersion for optimistic
// concurrency.
type SettlementBatch struct {
	MarketID        string
	ExpectedVersion int64

	Pool        model.Pool
	YesPrice    decimal.Decimal
	NoPrice     decimal.Decimal
	TotalVolume decimal.Decimal // new cumulative volume

	Bet model.BetRecord

	DebitUserID string
	DebitAmount decimal.Decimal // gross stake, never net-of-fee

	Position PositionDelta

	Ledger     model.LedgerEntry
	PricePoint model.PriceHistoryPoint
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Markets ---

	// CreateMarket persists a new market with its initialized pool.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by id, or ErrNotFound.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Settlement ---

	// CommitSettlement applies a settlement batch atomically. Returns
	// nil, ErrConflict (version race), ErrDuplicateRequest (idempotent
	// replay), ErrInsufficientFunds, or another error on failure. No
	// partial effect is ever visible.
	CommitSettlement(ctx context.Context, batch *SettlementBatch) error

	// GetBetByRequestID looks up a committed bet by its request id, or
	// ErrNotFound. Used for idempotency checks and post-timeout
	// reconciliation.
	GetBetByRequestID(ctx context.Context, requestID string) (*model.BetRecord, error)

	// GetBetsByMarket returns all committed bets for a market, oldest
	// first.
	GetBetsByMarket(ctx context.Context, marketID string) ([]model.BetRecord, error)

	// GetPriceHistory returns the append-only price points for a market,
	// oldest first.
	GetPriceHistory(ctx context.Context, marketID string) ([]model.PriceHistoryPoint, error)

	// --- Positions ---

	// GetUserPositions returns a user's positions with current value
	// marked to live market prices.
	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Account ledger ---

	// GetBalance returns a user's balance, or ErrNotFound for an unknown
	// account.
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// CreditBalance adds funds to an account, creating it if needed, and
	// returns the new balance.
	CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)

	// GetLedgerByUser returns a user's ledger entries, oldest first.
	GetLedgerByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)
}
