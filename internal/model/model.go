// Package model defines the core domain types shared across the bet engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet outcomes.
const (
	OutcomeYes = "yes"
	OutcomeNo  = "no"
)

// Market statuses.
const (
	StatusActive    = "active"
	StatusClosed    = "closed"
	StatusResolved  = "resolved"
	StatusCancelled = "cancelled"
)

// Pool holds the constant-product reserves backing one market.
// yesReserve × noReserve must stay within 0.01% of InvariantK at rest.
type Pool struct {
	YesReserve decimal.Decimal `json:"yes_reserve" db:"yes_reserve"`
	NoReserve  decimal.Decimal `json:"no_reserve" db:"no_reserve"`
	InvariantK decimal.Decimal `json:"invariant_k" db:"invariant_k"`
}

// Market represents one binary-outcome prediction market.
// YesPrice/NoPrice are denormalized caches of the pricing engine's output
// for the current pool; they are recomputed on every settlement, never
// hand-edited. Version increments on every committed settlement and keys
// the optimistic-concurrency check in the store.
type Market struct {
	ID              string          `json:"id" db:"id"`
	Question        string          `json:"question" db:"question"`
	Status          string          `json:"status" db:"status"`
	PoolInitialized bool            `json:"pool_initialized" db:"pool_initialized"`
	Pool            Pool            `json:"pool"`
	InitialSize     decimal.Decimal `json:"initial_size" db:"initial_size"`
	YesPrice        decimal.Decimal `json:"yes_price" db:"yes_price"`
	NoPrice         decimal.Decimal `json:"no_price" db:"no_price"`
	TotalVolume     decimal.Decimal `json:"total_volume" db:"total_volume"`
	Version         int64           `json:"version" db:"version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// BetRecord is the immutable record of one settled bet. Once committed
// these are never modified or deleted.
type BetRecord struct {
	ID             string          `json:"id" db:"id"`
	RequestID      string          `json:"request_id" db:"request_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	MarketID       string          `json:"market_id" db:"market_id"`
	Outcome        string          `json:"outcome" db:"outcome"`
	Amount         decimal.Decimal `json:"amount" db:"amount"` // gross stake
	Fee            decimal.Decimal `json:"fee" db:"fee"`
	NetAmount      decimal.Decimal `json:"net_amount" db:"net_amount"`
	Tokens         decimal.Decimal `json:"tokens" db:"tokens"`
	EffectivePrice decimal.Decimal `json:"effective_price" db:"effective_price"`
	Slippage       decimal.Decimal `json:"slippage" db:"slippage"`
	PoolBefore     Pool            `json:"pool_before"`
	PoolAfter      Pool            `json:"pool_after"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Position is a user's aggregate stake in one outcome of one market.
// Updated by weighted-average accumulation, never replaced or deleted.
// CurrentValue is marked to the live market price on read.
type Position struct {
	UserID        string          `json:"user_id"`
	MarketID      string          `json:"market_id"`
	Outcome       string          `json:"outcome"`
	Shares        decimal.Decimal `json:"shares"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LedgerEntry records one balance movement. Amount is signed: negative
// for bet debits, positive for deposits.
type LedgerEntry struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	MarketID     string          `json:"market_id,omitempty" db:"market_id"`
	BetID        string          `json:"bet_id,omitempty" db:"bet_id"`
	Type         string          `json:"type" db:"type"` // "bet" or "deposit"
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// PriceHistoryPoint is an append-only price snapshot, one per committed
// bet. Never mutated or deleted.
type PriceHistoryPoint struct {
	ID         string          `json:"id" db:"id"`
	MarketID   string          `json:"market_id" db:"market_id"`
	BetID      string          `json:"bet_id" db:"bet_id"`
	YesPrice   decimal.Decimal `json:"yes_price" db:"yes_price"`
	NoPrice    decimal.Decimal `json:"no_price" db:"no_price"`
	YesReserve decimal.Decimal `json:"yes_reserve" db:"yes_reserve"`
	NoReserve  decimal.Decimal `json:"no_reserve" db:"no_reserve"`
	Volume     decimal.Decimal `json:"volume" db:"volume"` // cumulative market volume
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}
