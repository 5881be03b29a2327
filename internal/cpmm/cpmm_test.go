package cpmm

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Price tests ---

func TestPrice_SymmetricPoolIsFiftyFifty(t *testing.T) {
	p, err := Price(model.OutcomeYes, d(1000), d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(d(0.5)) {
		t.Errorf("expected 0.5, got %s", p)
	}
}

func TestPrice_SumsToOne(t *testing.T) {
	one := decimal.NewFromInt(1)
	tolerance := d(0.000000001)

	tests := []struct {
		yes, no float64
	}{
		{1000, 1000},
		{600, 1400},
		{1, 999999},
		{910.75, 1098},
		{123.456, 789.012},
		{100000, 100},
	}
	for _, tt := range tests {
		pYes, err := Price(model.OutcomeYes, d(tt.yes), d(tt.no))
		if err != nil {
			t.Fatalf("yes price (%v,%v): %v", tt.yes, tt.no, err)
		}
		pNo, err := Price(model.OutcomeNo, d(tt.yes), d(tt.no))
		if err != nil {
			t.Fatalf("no price (%v,%v): %v", tt.yes, tt.no, err)
		}
		if pYes.LessThanOrEqual(decimal.Zero) || pYes.GreaterThanOrEqual(one) {
			t.Errorf("yes price out of (0,1): %s", pYes)
		}
		sum := pYes.Add(pNo)
		if sum.Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1 at (%v,%v): yes=%s no=%s sum=%s",
				tt.yes, tt.no, pYes, pNo, sum)
		}
	}
}

func TestPrice_DegeneratePool(t *testing.T) {
	if _, err := Price(model.OutcomeYes, d(0), d(0)); err != ErrDegeneratePool {
		t.Errorf("expected ErrDegeneratePool, got %v", err)
	}
}

// --- TokensOut tests ---

func TestTokensOut_ReferenceTrade(t *testing.T) {
	// Symmetric pool 1000/1000, k = 1,000,000. Net stake 98 on YES:
	// tokensOut = 1000 − 1,000,000/1098 = 89.2531876...
	tokens, err := TokensOut(d(98), d(1000), d(1000), d(1000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := d(89.2531876)
	if tokens.Sub(expected).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected tokens ≈ %s, got %s", expected, tokens)
	}
}

func TestTokensOut_NonPositiveStake(t *testing.T) {
	if _, err := TokensOut(d(0), d(1000), d(1000), d(1000000)); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero stake, got %v", err)
	}
	if _, err := TokensOut(d(-5), d(1000), d(1000), d(1000000)); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for negative stake, got %v", err)
	}
}

func TestTokensOut_PoolExhausted(t *testing.T) {
	// A stake so large the residual output reserve rounds to zero must be
	// rejected, not returned as the full (or a negative) reserve.
	huge := decimal.RequireFromString("1e30")
	_, err := TokensOut(huge, d(1000), d(1000), d(1000000))
	if err != ErrPoolExhausted {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestTokensOut_Monotonic(t *testing.T) {
	// Larger net stakes strictly increase tokens out and slippage.
	prevTokens := decimal.Zero
	prevSlippage := decimal.Decimal{}
	priceBefore, _ := Price(model.OutcomeYes, d(1000), d(1000))

	for i, net := range []float64{10, 50, 100, 250, 500, 900} {
		tokens, err := TokensOut(d(net), d(1000), d(1000), d(1000000))
		if err != nil {
			t.Fatalf("net=%v: %v", net, err)
		}
		if tokens.LessThanOrEqual(prevTokens) {
			t.Errorf("tokens should increase with stake: net=%v tokens=%s prev=%s",
				net, tokens, prevTokens)
		}
		slip := Slippage(priceBefore, EffectivePrice(d(net), tokens))
		if i > 0 && slip.LessThanOrEqual(prevSlippage) {
			t.Errorf("slippage should increase with stake: net=%v slip=%s prev=%s",
				net, slip, prevSlippage)
		}
		prevTokens, prevSlippage = tokens, slip
	}
}

// --- CostForTokens tests ---

func TestCostForTokens_InverseOfTokensOut(t *testing.T) {
	tokens, err := TokensOut(d(98), d(1000), d(1000), d(1000000))
	if err != nil {
		t.Fatalf("tokens out: %v", err)
	}
	cost, err := CostForTokens(tokens, d(1000), d(1000), d(1000000))
	if err != nil {
		t.Fatalf("cost for tokens: %v", err)
	}
	if cost.Sub(d(98)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("round trip should recover the stake: got %s, want ≈ 98", cost)
	}
}

func TestCostForTokens_ExhaustsPool(t *testing.T) {
	if _, err := CostForTokens(d(1000), d(1000), d(1000), d(1000000)); err != ErrPoolExhausted {
		t.Errorf("expected ErrPoolExhausted at full reserve, got %v", err)
	}
	if _, err := CostForTokens(d(1500), d(1000), d(1000), d(1000000)); err != ErrPoolExhausted {
		t.Errorf("expected ErrPoolExhausted beyond reserve, got %v", err)
	}
}

// --- Effective price / slippage / impact ---

func TestEffectivePrice(t *testing.T) {
	// 98 / (98 + 89.2531876) ≈ 0.5233
	eff := EffectivePrice(d(98), d(89.2531876))
	if eff.Sub(d(0.5233)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected ≈ 0.5233, got %s", eff)
	}
}

func TestSlippage_ZeroBase(t *testing.T) {
	if !Slippage(d(0), d(0.5)).IsZero() {
		t.Error("slippage with zero base price should be 0")
	}
}

func TestPriceImpact(t *testing.T) {
	impact := PriceImpact(d(0.5), d(0.5466))
	if impact.Sub(d(0.0932)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected impact ≈ 0.0932, got %s", impact)
	}
}

// --- Simulate tests ---

func TestSimulate_ReferenceTrade(t *testing.T) {
	// Scenario: 1000/1000 pool, k=1,000,000, net 98 on YES.
	q, err := Simulate(model.OutcomeYes, d(98), d(1000), d(1000), d(1000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.TokensOut.Sub(d(89.2532)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("tokens out: got %s, want ≈ 89.2532", q.TokensOut)
	}
	if q.NewNoReserve.Sub(d(1098)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("new no reserve: got %s, want 1098", q.NewNoReserve)
	}
	if q.NewYesReserve.Sub(d(910.7468)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("new yes reserve: got %s, want ≈ 910.7468", q.NewYesReserve)
	}
	if q.PriceAfter.Sub(d(0.5466)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("new yes price: got %s, want ≈ 0.5466", q.PriceAfter)
	}
	if q.Slippage.LessThanOrEqual(decimal.Zero) {
		t.Errorf("slippage should be positive, got %s", q.Slippage)
	}
	if q.PriceImpact.LessThanOrEqual(q.Slippage) {
		t.Errorf("marginal impact should exceed average slippage: impact=%s slip=%s",
			q.PriceImpact, q.Slippage)
	}
}

func TestSimulate_NoBetMirrorsYesBet(t *testing.T) {
	qYes, err := Simulate(model.OutcomeYes, d(98), d(1000), d(1000), d(1000000))
	if err != nil {
		t.Fatalf("yes: %v", err)
	}
	qNo, err := Simulate(model.OutcomeNo, d(98), d(1000), d(1000), d(1000000))
	if err != nil {
		t.Fatalf("no: %v", err)
	}
	if !qYes.TokensOut.Equal(qNo.TokensOut) {
		t.Errorf("symmetric pool should pay equal tokens both ways: yes=%s no=%s",
			qYes.TokensOut, qNo.TokensOut)
	}
	if !qYes.NewYesReserve.Equal(qNo.NewNoReserve) {
		t.Errorf("reserves should mirror: yes'=%s vs no'=%s",
			qYes.NewYesReserve, qNo.NewNoReserve)
	}
}

func TestSimulate_PreservesInvariant(t *testing.T) {
	// Run a chain of settlements against evolving reserves; the product
	// must stay within tolerance of k after every step.
	yes, no, k := d(1000), d(1000), d(1000000)
	stakes := []float64{98, 13.37, 250, 1, 400.25, 77}
	outcome := model.OutcomeYes

	for i, stake := range stakes {
		q, err := Simulate(outcome, d(stake), yes, no, k)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		yes, no = q.NewYesReserve, q.NewNoReserve
		if err := ValidateInvariant(yes, no, k); err != nil {
			t.Fatalf("step %d: invariant broken: yes=%s no=%s k=%s", i, yes, no, k)
		}
		if outcome == model.OutcomeYes {
			outcome = model.OutcomeNo
		} else {
			outcome = model.OutcomeYes
		}
	}
}

// --- Invariant validation ---

func TestValidateInvariant_WithinTolerance(t *testing.T) {
	// 0.005% drift is within the 0.01% relative tolerance.
	if err := ValidateInvariant(d(1000.05), d(1000), d(1000000)); err != nil {
		t.Errorf("drift within tolerance should pass, got %v", err)
	}
}

func TestValidateInvariant_BeyondTolerance(t *testing.T) {
	// 0.05% drift exceeds the tolerance.
	if err := ValidateInvariant(d(1000.5), d(1000), d(1000000)); err != ErrInvariantViolation {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestValidateInvariant_ScalesWithPoolSize(t *testing.T) {
	// The same absolute drift that fails a small pool passes a large one —
	// the tolerance must be relative.
	if err := ValidateInvariant(d(100.5), d(100), d(10000)); err != ErrInvariantViolation {
		t.Errorf("small pool: expected violation, got %v", err)
	}
	if err := ValidateInvariant(d(100000.0005), d(100000), decimal.RequireFromString("10000000000")); err != nil {
		t.Errorf("large pool: same absolute drift should pass, got %v", err)
	}
}

func TestValidateInvariant_NonPositiveK(t *testing.T) {
	if err := ValidateInvariant(d(1000), d(1000), d(0)); err != ErrInvariantViolation {
		t.Errorf("expected ErrInvariantViolation for k=0, got %v", err)
	}
}
