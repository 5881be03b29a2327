package bet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/cpmm"
	"github.com/oddsmill/bet-engine/internal/margin"
	"github.com/oddsmill/bet-engine/internal/metrics"
	"github.com/oddsmill/bet-engine/internal/model"
	"github.com/oddsmill/bet-engine/internal/odds"
	"github.com/oddsmill/bet-engine/internal/store"
)

// Presentation modes. Shares mode reports tokens bought; odds mode adds
// a bookmaker-style projection on top of the same settlement.
const (
	ModeShares = "shares"
	ModeOdds   = "odds"
)

// maxConflictRetries bounds re-reads after an optimistic version
// conflict before the request is rejected.
const maxConflictRetries = 3

// Request is a settlement request. RequestID is the idempotency key: a
// replay with the same id returns the originally committed bet instead
// of settling twice. An empty id gets a generated one (no replay
// protection for that caller).
type Request struct {
	RequestID string          `json:"request_id"`
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	Outcome   string          `json:"outcome"`
	Amount    decimal.Decimal `json:"amount"`
	Mode      string          `json:"mode,omitempty"`
}

// OddsProjection presents a committed bet in bookmaker terms. It is a
// projection of the share settlement, not an alternative execution.
type OddsProjection struct {
	Odds       decimal.Decimal `json:"odds"`
	Display    string          `json:"display"`
	American   string          `json:"american"`
	Fractional string          `json:"fractional"`
	Category   string          `json:"category"`
	Payout     decimal.Decimal `json:"payout"`
	Profit     decimal.Decimal `json:"profit"`
	ROI        decimal.Decimal `json:"roi"`
}

// Summary is the result of a committed settlement.
type Summary struct {
	BetID          string          `json:"bet_id"`
	RequestID      string          `json:"request_id"`
	UserID         string          `json:"user_id"`
	MarketID       string          `json:"market_id"`
	Outcome        string          `json:"outcome"`
	Mode           string          `json:"mode"`
	Gross          decimal.Decimal `json:"gross"`
	Fee            decimal.Decimal `json:"fee"`
	Net            decimal.Decimal `json:"net"`
	Tokens         decimal.Decimal `json:"tokens"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Slippage       decimal.Decimal `json:"slippage"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
	YesPrice       decimal.Decimal `json:"yes_price"`
	NoPrice        decimal.Decimal `json:"no_price"`
	Pool           model.Pool      `json:"pool"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	Odds           *OddsProjection `json:"odds_projection,omitempty"`
	Replayed       bool            `json:"replayed,omitempty"`
}

// QuoteResult is a dry-run settlement: identical math, no state change.
type QuoteResult struct {
	MarketID       string          `json:"market_id"`
	Outcome        string          `json:"outcome"`
	Gross          decimal.Decimal `json:"gross"`
	Fee            decimal.Decimal `json:"fee"`
	Net            decimal.Decimal `json:"net"`
	Tokens         decimal.Decimal `json:"tokens"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Slippage       decimal.Decimal `json:"slippage"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
	YesPrice       decimal.Decimal `json:"yes_price"`
	NoPrice        decimal.Decimal `json:"no_price"`
	Odds           *OddsProjection `json:"odds_projection,omitempty"`
}

func validateRequest(req *Request) error {
	if req.UserID == "" {
		return E(KindValidation, "user_id is required")
	}
	if req.MarketID == "" {
		return E(KindValidation, "market_id is required")
	}
	if req.Outcome != model.OutcomeYes && req.Outcome != model.OutcomeNo {
		return E(KindValidation, "outcome must be yes or no")
	}
	switch req.Mode {
	case "":
		req.Mode = ModeShares
	case ModeShares, ModeOdds:
	default:
		return E(KindValidation, "mode must be shares or odds")
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return E(KindInvalidAmount, "amount must be positive")
	}
	return nil
}

// Settle runs the full pipeline: validate, price, simulate, commit. All
// six settlement effects land atomically or not at all; on a version
// conflict the pipeline re-reads and retries a bounded number of times.
func (s *Service) Settle(ctx context.Context, req *Request) (*Summary, error) {
	if err := validateRequest(req); err != nil {
		metrics.BetsRejected.WithLabelValues(string(KindOf(err))).Inc()
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	start := time.Now()

	// Serialize settlements per market. Quotes and reads stay lock-free.
	unlock := s.lockMarket(req.MarketID)
	defer unlock()

	// Replay check before doing any work: a duplicate request returns
	// the committed record as-is.
	if existing, err := s.store.GetBetByRequestID(ctx, req.RequestID); err == nil {
		return s.replaySummary(existing, req.Mode), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, wrapErr(KindPersistenceFailure, "replay lookup failed", err)
	}

	var summary *Summary
	for attempt := 0; ; attempt++ {
		var err error
		summary, err = s.settleOnce(ctx, req)
		if err == nil {
			break
		}
		if KindOf(err) == KindConcurrencyConflict && attempt < maxConflictRetries {
			metrics.ConflictRetries.Inc()
			continue
		}
		metrics.BetsRejected.WithLabelValues(string(KindOf(err))).Inc()
		slog.Warn("bet rejected",
			"request_id", req.RequestID,
			"market_id", req.MarketID,
			"kind", string(KindOf(err)),
			"err", err)
		return nil, err
	}

	if summary.Replayed {
		// The winning attempt already counted this bet.
		return summary, nil
	}

	metrics.BetsSettled.WithLabelValues(summary.Outcome, summary.Mode).Inc()
	metrics.SettleLatency.WithLabelValues(summary.Outcome).Observe(time.Since(start).Seconds())
	vol, _ := summary.Gross.Float64()
	metrics.MarketVolume.WithLabelValues(summary.MarketID, summary.Outcome).Add(vol)

	slog.Info("bet settled",
		"bet_id", summary.BetID,
		"request_id", summary.RequestID,
		"market_id", summary.MarketID,
		"user_id", summary.UserID,
		"outcome", summary.Outcome,
		"gross", summary.Gross.String(),
		"tokens", summary.Tokens.String(),
		"yes_price", summary.YesPrice.String(),
		"duration", time.Since(start).String())

	if s.hub != nil {
		s.hub.Broadcast(&WSMessage{
			Type:     "price_update",
			MarketID: summary.MarketID,
			Outcome:  summary.Outcome,
			Amount:   summary.Gross.String(),
			YesPrice: summary.YesPrice.String(),
			NoPrice:  summary.NoPrice.String(),
			Volume:   summary.TotalVolume.String(),
		})
	}
	return summary, nil
}

// settleOnce performs one read-simulate-commit cycle. A version conflict
// surfaces as KindConcurrencyConflict so the caller can re-read fresh
// state and retry.
func (s *Service) settleOnce(ctx context.Context, req *Request) (*Summary, error) {
	m, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, E(KindMarketNotFound, "market not found")
		}
		return nil, wrapErr(KindPersistenceFailure, "market lookup failed", err)
	}
	if !m.PoolInitialized {
		return nil, E(KindPoolNotInitialized, "market pool is not initialized")
	}
	if m.Status != model.StatusActive {
		return nil, E(KindMarketNotActive, fmt.Sprintf("market is %s", m.Status))
	}

	balance, err := s.store.GetBalance(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, E(KindInsufficientBalance, "no funds on account")
		}
		return nil, wrapErr(KindPersistenceFailure, "balance lookup failed", err)
	}
	if balance.LessThan(req.Amount) {
		return nil, E(KindInsufficientBalance, "balance below stake")
	}

	net, fee, err := margin.ApplyFee(req.Amount, s.cfg.FeeRate)
	if err != nil {
		return nil, E(KindInvalidAmount, "amount must be positive")
	}

	// Invariant check before and after the trade. A pre-trade violation
	// means stored state is corrupt; post-trade means the simulation
	// itself drifted. Both refuse the bet.
	p := m.Pool
	if verr := cpmm.ValidateInvariant(p.YesReserve, p.NoReserve, p.InvariantK); verr != nil {
		return nil, wrapErr(KindInvariantViolation, "pool state violates invariant", verr)
	}

	q, err := cpmm.Simulate(req.Outcome, net, p.YesReserve, p.NoReserve, p.InvariantK)
	if err != nil {
		switch {
		case errors.Is(err, cpmm.ErrPoolExhausted):
			return nil, E(KindPoolExhausted, "bet would exhaust pool reserves")
		case errors.Is(err, cpmm.ErrDegeneratePool):
			return nil, E(KindPoolNotInitialized, "market pool is degenerate")
		case errors.Is(err, cpmm.ErrInvalidAmount):
			return nil, E(KindInvalidAmount, "amount must be positive")
		default:
			return nil, wrapErr(KindPersistenceFailure, "simulation failed", err)
		}
	}
	if verr := cpmm.ValidateInvariant(q.NewYesReserve, q.NewNoReserve, p.InvariantK); verr != nil {
		return nil, wrapErr(KindInvariantViolation, "trade would violate pool invariant", verr)
	}

	now := time.Now().UTC()
	newYesPrice, _ := cpmm.Price(model.OutcomeYes, q.NewYesReserve, q.NewNoReserve)
	newNoPrice, _ := cpmm.Price(model.OutcomeNo, q.NewYesReserve, q.NewNoReserve)
	newVolume := m.TotalVolume.Add(req.Amount)

	record := model.BetRecord{
		ID:             uuid.New().String(),
		RequestID:      req.RequestID,
		UserID:         req.UserID,
		MarketID:       req.MarketID,
		Outcome:        req.Outcome,
		Amount:         req.Amount,
		Fee:            fee,
		NetAmount:      net,
		Tokens:         q.TokensOut,
		EffectivePrice: q.EffectivePrice,
		Slippage:       q.Slippage,
		PoolBefore:     p,
		PoolAfter: model.Pool{
			YesReserve: q.NewYesReserve,
			NoReserve:  q.NewNoReserve,
			InvariantK: p.InvariantK,
		},
		CreatedAt: now,
	}

	batch := &store.SettlementBatch{
		MarketID:        m.ID,
		ExpectedVersion: m.Version,
		Pool:            record.PoolAfter,
		YesPrice:        newYesPrice,
		NoPrice:         newNoPrice,
		TotalVolume:     newVolume,
		Bet:             record,
		DebitUserID:     req.UserID,
		DebitAmount:     req.Amount,
		Position: store.PositionDelta{
			UserID:   req.UserID,
			MarketID: req.MarketID,
			Outcome:  req.Outcome,
			Shares:   q.TokensOut,
			Invested: req.Amount,
		},
		Ledger: model.LedgerEntry{
			ID:           uuid.New().String(),
			UserID:       req.UserID,
			MarketID:     req.MarketID,
			BetID:        record.ID,
			Type:         "bet",
			Amount:       req.Amount.Neg(),
			BalanceAfter: balance.Sub(req.Amount),
			Timestamp:    now,
		},
		PricePoint: model.PriceHistoryPoint{
			ID:         uuid.New().String(),
			MarketID:   req.MarketID,
			BetID:      record.ID,
			YesPrice:   newYesPrice,
			NoPrice:    newNoPrice,
			YesReserve: q.NewYesReserve,
			NoReserve:  q.NewNoReserve,
			Volume:     newVolume,
			Timestamp:  now,
		},
	}

	// The commit is detached from the caller's context: once the
	// simulation has passed, cancelling the HTTP request must not leave
	// a half-applied settlement question open. The store applies the
	// batch atomically either way; the detach just keeps the outcome
	// knowable within CommitTimeout.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
	defer cancel()
	if err := s.store.CommitSettlement(cctx, batch); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, wrapErr(KindConcurrencyConflict, "market changed during settlement", err)
		case errors.Is(err, store.ErrDuplicateRequest):
			// A concurrent attempt with the same request id won the
			// race. Read back what it committed.
			existing, rerr := s.store.GetBetByRequestID(ctx, req.RequestID)
			if rerr != nil {
				return nil, wrapErr(KindPersistenceFailure, "duplicate request reconciliation failed", rerr)
			}
			return s.replaySummary(existing, req.Mode), nil
		case errors.Is(err, store.ErrInsufficientFunds):
			return nil, E(KindInsufficientBalance, "balance below stake")
		case errors.Is(err, store.ErrNotFound):
			return nil, E(KindMarketNotFound, "market not found")
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			// The commit outcome is unknown: the batch may have landed
			// before the timeout fired. Read back by request id before
			// reporting anything to the caller.
			rctx := context.WithoutCancel(ctx)
			existing, rerr := s.store.GetBetByRequestID(rctx, req.RequestID)
			if rerr == nil {
				return s.replaySummary(existing, req.Mode), nil
			}
			if errors.Is(rerr, store.ErrNotFound) {
				return nil, wrapErr(KindPersistenceFailure, "settlement commit timed out", err)
			}
			return nil, wrapErr(KindPersistenceFailure, "settlement commit outcome unknown", rerr)
		default:
			return nil, wrapErr(KindPersistenceFailure, "settlement commit failed", err)
		}
	}

	if drift, ok := relativeDrift(q.NewYesReserve, q.NewNoReserve, p.InvariantK); ok {
		metrics.InvariantDrift.WithLabelValues(m.ID).Set(drift)
	}

	sum := &Summary{
		BetID:          record.ID,
		RequestID:      record.RequestID,
		UserID:         record.UserID,
		MarketID:       record.MarketID,
		Outcome:        record.Outcome,
		Mode:           req.Mode,
		Gross:          record.Amount,
		Fee:            record.Fee,
		Net:            record.NetAmount,
		Tokens:         record.Tokens,
		EffectivePrice: record.EffectivePrice,
		Slippage:       record.Slippage,
		PriceImpact:    q.PriceImpact,
		YesPrice:       newYesPrice,
		NoPrice:        newNoPrice,
		Pool:           record.PoolAfter,
		TotalVolume:    newVolume,
	}
	if req.Mode == ModeOdds {
		sum.Odds = projectOdds(record.NetAmount, record.EffectivePrice)
	}
	return sum, nil
}

// replaySummary rebuilds a Summary from an already-committed bet record.
func (s *Service) replaySummary(b *model.BetRecord, mode string) *Summary {
	if mode == "" {
		mode = ModeShares
	}
	yesPrice, _ := cpmm.Price(model.OutcomeYes, b.PoolAfter.YesReserve, b.PoolAfter.NoReserve)
	noPrice, _ := cpmm.Price(model.OutcomeNo, b.PoolAfter.YesReserve, b.PoolAfter.NoReserve)
	priceBefore, _ := cpmm.Price(b.Outcome, b.PoolBefore.YesReserve, b.PoolBefore.NoReserve)
	priceAfter, _ := cpmm.Price(b.Outcome, b.PoolAfter.YesReserve, b.PoolAfter.NoReserve)

	sum := &Summary{
		BetID:          b.ID,
		RequestID:      b.RequestID,
		UserID:         b.UserID,
		MarketID:       b.MarketID,
		Outcome:        b.Outcome,
		Mode:           mode,
		Gross:          b.Amount,
		Fee:            b.Fee,
		Net:            b.NetAmount,
		Tokens:         b.Tokens,
		EffectivePrice: b.EffectivePrice,
		Slippage:       b.Slippage,
		PriceImpact:    cpmm.PriceImpact(priceBefore, priceAfter),
		YesPrice:       yesPrice,
		NoPrice:        noPrice,
		Pool:           b.PoolAfter,
		Replayed:       true,
	}
	if mode == ModeOdds {
		sum.Odds = projectOdds(b.NetAmount, b.EffectivePrice)
	}
	return sum
}

// Quote runs the settlement math against current pool state without
// touching any state. No lock is taken: a quote is advisory and may be
// stale by the time the bet lands.
func (s *Service) Quote(ctx context.Context, req *Request) (*QuoteResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	m, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, E(KindMarketNotFound, "market not found")
		}
		return nil, wrapErr(KindPersistenceFailure, "market lookup failed", err)
	}
	if !m.PoolInitialized {
		return nil, E(KindPoolNotInitialized, "market pool is not initialized")
	}
	if m.Status != model.StatusActive {
		return nil, E(KindMarketNotActive, fmt.Sprintf("market is %s", m.Status))
	}

	net, fee, err := margin.ApplyFee(req.Amount, s.cfg.FeeRate)
	if err != nil {
		return nil, E(KindInvalidAmount, "amount must be positive")
	}

	p := m.Pool
	q, err := cpmm.Simulate(req.Outcome, net, p.YesReserve, p.NoReserve, p.InvariantK)
	if err != nil {
		switch {
		case errors.Is(err, cpmm.ErrPoolExhausted):
			return nil, E(KindPoolExhausted, "bet would exhaust pool reserves")
		case errors.Is(err, cpmm.ErrDegeneratePool):
			return nil, E(KindPoolNotInitialized, "market pool is degenerate")
		default:
			return nil, E(KindInvalidAmount, "amount must be positive")
		}
	}

	yesPrice, _ := cpmm.Price(model.OutcomeYes, q.NewYesReserve, q.NewNoReserve)
	noPrice, _ := cpmm.Price(model.OutcomeNo, q.NewYesReserve, q.NewNoReserve)

	res := &QuoteResult{
		MarketID:       req.MarketID,
		Outcome:        req.Outcome,
		Gross:          req.Amount,
		Fee:            fee,
		Net:            net,
		Tokens:         q.TokensOut,
		EffectivePrice: q.EffectivePrice,
		Slippage:       q.Slippage,
		PriceImpact:    q.PriceImpact,
		YesPrice:       yesPrice,
		NoPrice:        noPrice,
	}
	if req.Mode == ModeOdds {
		res.Odds = projectOdds(net, q.EffectivePrice)
	}
	return res, nil
}

// projectOdds converts an effective share price into bookmaker odds and
// a winnings projection. The stake in the projection is the net amount,
// matching what actually entered the pool.
func projectOdds(net, effectivePrice decimal.Decimal) *OddsProjection {
	o, err := odds.ProbabilityToOdds(effectivePrice)
	if err != nil {
		return nil
	}
	pay := odds.ComputePayout(net, o)
	return &OddsProjection{
		Odds:       o,
		Display:    odds.Format(o, odds.StyleDecimal),
		American:   odds.Format(o, odds.StyleAmerican),
		Fractional: odds.Format(o, odds.StyleFractional),
		Category:   odds.Category(o),
		Payout:     pay.Payout,
		Profit:     pay.Profit,
		ROI:        pay.ROI,
	}
}

// relativeDrift reports |yes*no - k| / k as a float for the drift gauge.
func relativeDrift(yes, no, k decimal.Decimal) (float64, bool) {
	if k.LessThanOrEqual(decimal.Zero) {
		return 0, false
	}
	drift := yes.Mul(no).Sub(k).Abs().Div(k)
	f, _ := drift.Float64()
	return f, true
}
