package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	bets        []model.BetRecord
	betsByReqID map[string]int // request id → index into bets
	positions   map[string]*model.Position
	balances    map[string]decimal.Decimal
	ledger      []model.LedgerEntry
	pricePoints map[string][]model.PriceHistoryPoint
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[string]*model.Market),
		betsByReqID: make(map[string]int),
		positions:   make(map[string]*model.Position),
		balances:    make(map[string]decimal.Decimal),
		pricePoints: make(map[string][]model.PriceHistoryPoint),
	}
}

func positionKey(userID, marketID, outcome string) string {
	return userID + "|" + marketID + "|" + outcome
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

// CommitSettlement applies all six effects under one lock. All checks run
// before any mutation, so a failed batch leaves no partial state.
func (s *MemoryStore) CommitSettlement(_ context.Context, b *SettlementBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.betsByReqID[b.Bet.RequestID]; dup {
		return ErrDuplicateRequest
	}

	m, ok := s.markets[b.MarketID]
	if !ok {
		return ErrNotFound
	}
	if m.Version != b.ExpectedVersion {
		return ErrConflict
	}

	balance := s.balances[b.DebitUserID]
	if balance.LessThan(b.DebitAmount) {
		return ErrInsufficientFunds
	}

	// All checks passed; apply everything.
	m.Pool = b.Pool
	m.YesPrice = b.YesPrice
	m.NoPrice = b.NoPrice
	m.TotalVolume = b.TotalVolume
	m.Version++

	s.bets = append(s.bets, b.Bet)
	s.betsByReqID[b.Bet.RequestID] = len(s.bets) - 1

	s.balances[b.DebitUserID] = balance.Sub(b.DebitAmount)

	key := positionKey(b.Position.UserID, b.Position.MarketID, b.Position.Outcome)
	pos, ok := s.positions[key]
	if !ok {
		pos = &model.Position{
			UserID:   b.Position.UserID,
			MarketID: b.Position.MarketID,
			Outcome:  b.Position.Outcome,
		}
		s.positions[key] = pos
	}
	pos.Shares = pos.Shares.Add(b.Position.Shares)
	pos.TotalInvested = pos.TotalInvested.Add(b.Position.Invested)
	if pos.Shares.IsPositive() {
		pos.AvgPrice = pos.TotalInvested.Div(pos.Shares)
	}
	pos.UpdatedAt = b.Bet.CreatedAt

	s.ledger = append(s.ledger, b.Ledger)
	s.pricePoints[b.MarketID] = append(s.pricePoints[b.MarketID], b.PricePoint)

	return nil
}

func (s *MemoryStore) GetBetByRequestID(_ context.Context, requestID string) (*model.BetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.betsByReqID[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	bet := s.bets[idx]
	return &bet, nil
}

func (s *MemoryStore) GetBetsByMarket(_ context.Context, marketID string) ([]model.BetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BetRecord
	for _, b := range s.bets {
		if b.MarketID == marketID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, marketID string) ([]model.PriceHistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.pricePoints[marketID]
	result := make([]model.PriceHistoryPoint, len(points))
	copy(result, points)
	return result, nil
}

// GetUserPositions returns the user's positions with current value marked
// to the live market price for the held outcome.
func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, pos := range s.positions {
		if pos.UserID != userID {
			continue
		}
		p := *pos
		if m, ok := s.markets[p.MarketID]; ok {
			price := m.YesPrice
			if p.Outcome == model.OutcomeNo {
				price = m.NoPrice
			}
			p.CurrentValue = p.Shares.Mul(price)
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[userID]
	if !ok {
		return decimal.Decimal{}, ErrNotFound
	}
	return balance, nil
}

func (s *MemoryStore) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBalance := s.balances[userID].Add(amount)
	s.balances[userID] = newBalance
	return newBalance, nil
}

func (s *MemoryStore) GetLedgerByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}
