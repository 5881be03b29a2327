// Package bet implements the settlement orchestrator: the pipeline that
// takes a bet request through validation, pricing, simulation, and the
// atomic commit of its settlement effects, plus the HTTP surface that
// exposes it.
package bet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/config"
	"github.com/oddsmill/bet-engine/internal/cpmm"
	"github.com/oddsmill/bet-engine/internal/margin"
	"github.com/oddsmill/bet-engine/internal/model"
	"github.com/oddsmill/bet-engine/internal/pool"
	"github.com/oddsmill/bet-engine/internal/store"
)

// Service owns the settlement pipeline and its HTTP handlers.
type Service struct {
	store store.Store
	cfg   config.Config
	hub   *Hub

	// Per-market settlement locks. Bets on different markets proceed in
	// parallel; bets on the same market serialize.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a settlement service. hub may be nil when no
// WebSocket fanout is wanted (tests).
func NewService(st store.Store, cfg config.Config, hub *Hub) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		hub:   hub,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockMarket(marketID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[marketID] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Routes mounts the service's API routes on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/price", s.GetPrice)
	r.Get("/markets/{marketID}/history", s.GetHistory)
	r.Get("/markets/{marketID}/health", s.GetPoolHealth)
	r.Get("/markets/{marketID}/bets", s.GetMarketBets)
	r.Post("/bets", s.PlaceBet)
	r.Post("/bets/quote", s.QuoteBet)
	r.Get("/users/{userID}/positions", s.GetPositions)
	r.Get("/users/{userID}/balance", s.GetBalance)
	r.Post("/users/{userID}/deposit", s.Deposit)
	r.Get("/users/{userID}/ledger", s.GetLedger)
}

type createMarketRequest struct {
	Question       string          `json:"question"`
	PoolSize       decimal.Decimal `json:"pool_size"`
	TargetYesPrice decimal.Decimal `json:"target_yes_price"`
}

// CreateMarket creates a market with an initialized pool. The pool is
// seeded symmetrically at 50/50 unless a target price is given, in which
// case reserves are skewed to open at that price.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, E(KindValidation, "invalid JSON body"))
		return
	}
	if req.Question == "" {
		writeError(w, E(KindValidation, "question is required"))
		return
	}

	size := req.PoolSize
	if size.IsZero() {
		size = s.cfg.DefaultPoolSize
	}

	var (
		p   model.Pool
		err error
	)
	// Symmetric pools take size per side; asymmetric pools split a
	// total across the two sides, so the per-side health baseline is
	// half the total.
	initialSize := size
	if req.TargetYesPrice.IsZero() {
		p, err = pool.InitSymmetric(size)
	} else {
		p, err = pool.InitAsymmetric(size, req.TargetYesPrice)
		initialSize = size.Div(decimal.NewFromInt(2))
	}
	if err != nil {
		switch {
		case errors.Is(err, pool.ErrPoolSizeOutOfRange):
			writeError(w, E(KindValidation, "pool_size out of range"))
		case errors.Is(err, pool.ErrInvalidTargetPrice):
			writeError(w, E(KindValidation, "target_yes_price must be strictly between 0 and 1"))
		default:
			writeError(w, wrapErr(KindValidation, "pool initialization failed", err))
		}
		return
	}

	yesPrice, _ := cpmm.Price(model.OutcomeYes, p.YesReserve, p.NoReserve)
	noPrice, _ := cpmm.Price(model.OutcomeNo, p.YesReserve, p.NoReserve)

	m := &model.Market{
		ID:              uuid.New().String(),
		Question:        req.Question,
		Status:          model.StatusActive,
		PoolInitialized: true,
		Pool:            p,
		InitialSize:     initialSize,
		YesPrice:        yesPrice,
		NoPrice:         noPrice,
		TotalVolume:     decimal.Zero,
		Version:         1,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateMarket(r.Context(), m); err != nil {
		writeError(w, wrapErr(KindPersistenceFailure, "market creation failed", err))
		return
	}

	slog.Info("market created",
		"market_id", m.ID,
		"pool_size", size.String(),
		"yes_price", yesPrice.String())
	writeJSON(w, http.StatusCreated, m)
}

func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, wrapErr(KindPersistenceFailure, "market listing failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets, "count": len(markets)})
}

func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetPrice returns current prices plus the fee-adjusted buy/sell spread
// for display.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	yesBuy, yesSell := margin.PriceSpread(m.YesPrice, s.cfg.FeeRate)
	noBuy, noSell := margin.PriceSpread(m.NoPrice, s.cfg.FeeRate)
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": m.ID,
		"yes_price": m.YesPrice,
		"no_price":  m.NoPrice,
		"yes_buy":   yesBuy,
		"yes_sell":  yesSell,
		"no_buy":    noBuy,
		"no_sell":   noSell,
		"fee_rate":  s.cfg.FeeRate,
	})
}

func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	points, err := s.store.GetPriceHistory(r.Context(), marketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"history":   points,
		"count":     len(points),
	})
}

// GetPoolHealth reports reserve utilization and depth warnings for a
// market's pool.
func (s *Service) GetPoolHealth(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	report := pool.Health(m.Pool.YesReserve, m.Pool.NoReserve, m.InitialSize)
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": m.ID,
		"pool":      m.Pool,
		"health":    report,
	})
}

func (s *Service) GetMarketBets(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	bets, err := s.store.GetBetsByMarket(r.Context(), marketID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"bets":      bets,
		"count":     len(bets),
	})
}

// PlaceBet settles a bet through the full pipeline.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, E(KindValidation, "invalid JSON body"))
		return
	}
	summary, err := s.Settle(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// QuoteBet prices a bet without committing anything.
func (s *Service) QuoteBet(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, E(KindValidation, "invalid JSON body"))
		return
	}
	quote, err := s.Quote(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	positions, err := s.store.GetUserPositions(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := s.store.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown users read as zero rather than 404; the account
			// springs into existence on first deposit.
			writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": decimal.Zero})
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, E(KindValidation, "invalid JSON body"))
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, E(KindInvalidAmount, "amount must be positive"))
		return
	}
	balance, err := s.store.CreditBalance(r.Context(), userID, req.Amount)
	if err != nil {
		writeError(w, wrapErr(KindPersistenceFailure, "deposit failed", err))
		return
	}
	slog.Info("deposit credited", "user_id", userID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	entries, err := s.store.GetLedgerByUser(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"ledger":  entries,
		"count":   len(entries),
	})
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = wrapErr(KindPersistenceFailure, "internal error", err)
	}
	writeJSON(w, httpStatus(e.Kind), e)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, E(KindMarketNotFound, "not found"))
		return
	}
	writeError(w, wrapErr(KindPersistenceFailure, "storage failure", err))
}
