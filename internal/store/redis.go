package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Settlements go to the primary store and invalidate every key they
// touch; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

// CommitSettlement delegates atomicity to the primary store and, on
// success, drops every cached key the batch touched. The next read
// re-populates from the source of truth.
func (s *CachedStore) CommitSettlement(ctx context.Context, b *SettlementBatch) error {
	if err := s.primary.CommitSettlement(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx,
		marketKey(b.MarketID),
		positionsKey(b.Position.UserID),
		balanceKey(b.DebitUserID),
	)
	return nil
}

func (s *CachedStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	balance, err := s.primary.CreditBalance(ctx, userID, amount)
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.rdb.Del(ctx, balanceKey(userID))
	return balance, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	cached, err := s.rdb.Get(ctx, balanceKey(userID)).Result()
	if err == nil {
		if b, derr := decimal.NewFromString(cached); derr == nil {
			return b, nil
		}
	}

	balance, err := s.primary.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.rdb.Set(ctx, balanceKey(userID), balance.String(), s.ttl)
	return balance, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetBetByRequestID(ctx context.Context, requestID string) (*model.BetRecord, error) {
	return s.primary.GetBetByRequestID(ctx, requestID)
}

func (s *CachedStore) GetBetsByMarket(ctx context.Context, marketID string) ([]model.BetRecord, error) {
	return s.primary.GetBetsByMarket(ctx, marketID)
}

func (s *CachedStore) GetPriceHistory(ctx context.Context, marketID string) ([]model.PriceHistoryPoint, error) {
	return s.primary.GetPriceHistory(ctx, marketID)
}

func (s *CachedStore) GetLedgerByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string       { return fmt.Sprintf("market:%s", id) }
func positionsKey(uid string) string   { return fmt.Sprintf("positions:%s", uid) }
func balanceKey(uid string) string     { return fmt.Sprintf("balance:%s", uid) }
