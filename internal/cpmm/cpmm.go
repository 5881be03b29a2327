// Package cpmm implements the Constant Product Market Maker pricing engine
// for binary outcome markets.
//
// The CPMM holds two token reserves whose product stays constant across
// trades: yesReserve × noReserve = k. Backing one outcome moves stake into
// the opposite reserve and pays tokens out of the backed reserve, so the
// backed price rises.
//
// All functions here are pure: reserves are passed as arguments and never
// stored. All monetary values use shopspring/decimal — never float64 for
// money.
package cpmm

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/model"
)

var (
	// ErrDegeneratePool is returned when both reserves are zero (or
	// negative), making prices undefined.
	ErrDegeneratePool = errors.New("cpmm: pool reserves are degenerate")

	// ErrInvalidAmount is returned when a bet or token amount is not
	// strictly positive.
	ErrInvalidAmount = errors.New("cpmm: amount must be positive")

	// ErrPoolExhausted is returned when a trade would claim the entire
	// output reserve (or a nonsensical negative amount of it).
	ErrPoolExhausted = errors.New("cpmm: trade would exhaust pool reserve")

	// ErrInvariantViolation is returned when the reserve product drifts
	// from k beyond the allowed relative tolerance.
	ErrInvariantViolation = errors.New("cpmm: constant product invariant violated")

	// InvariantTolerance is the maximum allowed relative drift of
	// yesReserve × noReserve from k. The tolerance is relative, not
	// absolute, because absolute token counts scale with pool size.
	InvariantTolerance = decimal.NewFromFloat(0.0001)
)

// Quote is the full result of simulating one trade against a pool.
// Nothing is mutated; the caller decides whether to commit NewYesReserve
// and NewNoReserve.
type Quote struct {
	TokensOut      decimal.Decimal `json:"tokens_out"`
	NewYesReserve  decimal.Decimal `json:"new_yes_reserve"`
	NewNoReserve   decimal.Decimal `json:"new_no_reserve"`
	PriceBefore    decimal.Decimal `json:"price_before"`
	PriceAfter     decimal.Decimal `json:"price_after"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Slippage       decimal.Decimal `json:"slippage"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
}

// Price returns the marginal probability-style price for one outcome:
//
//	yesPrice = noReserve / (yesReserve + noReserve)
//	noPrice  = yesReserve / (yesReserve + noReserve)
//
// Prices of both outcomes always sum to 1 and lie in (0,1) while both
// reserves are positive.
func Price(outcome string, yesReserve, noReserve decimal.Decimal) (decimal.Decimal, error) {
	total := yesReserve.Add(noReserve)
	if total.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, ErrDegeneratePool
	}
	if outcome == model.OutcomeYes {
		return noReserve.Div(total), nil
	}
	return yesReserve.Div(total), nil
}

// TokensOut computes the tokens received for a net (post-fee) stake:
//
//	newInput  = inputReserve + betNet
//	newOutput = k / newInput
//	tokensOut = outputReserve − newOutput
//
// For a YES bet the input reserve is the NO side and tokens come out of
// the YES side, and vice versa.
func TokensOut(betNet, inputReserve, outputReserve, k decimal.Decimal) (decimal.Decimal, error) {
	if betNet.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	newInput := inputReserve.Add(betNet)
	newOutput := k.Div(newInput)
	tokens := outputReserve.Sub(newOutput)

	if tokens.GreaterThanOrEqual(outputReserve) || tokens.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, ErrPoolExhausted
	}
	return tokens, nil
}

// CostForTokens is the inverse of TokensOut: the net stake required to
// receive exactly tokensDesired tokens from the output side.
func CostForTokens(tokensDesired, inputReserve, outputReserve, k decimal.Decimal) (decimal.Decimal, error) {
	if tokensDesired.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	if tokensDesired.GreaterThanOrEqual(outputReserve) {
		return decimal.Decimal{}, ErrPoolExhausted
	}

	newOutput := outputReserve.Sub(tokensDesired)
	newInput := k.Div(newOutput)
	return newInput.Sub(inputReserve), nil
}

// EffectivePrice is the average probability implied by a whole trade:
//
//	betNet / (betNet + tokensOut)
//
// Distinct from the marginal price — it captures slippage. Note this mixes
// a currency amount with a token count as if unit-comparable; it is a
// modeling approximation carried for compatibility, not a true
// probability.
func EffectivePrice(betNet, tokensOut decimal.Decimal) decimal.Decimal {
	denom := betNet.Add(tokensOut)
	if denom.IsZero() {
		return decimal.Zero
	}
	return betNet.Div(denom)
}

// Slippage is the relative divergence of the trade's effective price from
// the pre-trade marginal price. Returns 0 when priceBefore is 0.
func Slippage(priceBefore, effectivePrice decimal.Decimal) decimal.Decimal {
	return relativeDelta(priceBefore, effectivePrice)
}

// PriceImpact is the relative divergence of the post-trade marginal price
// from the pre-trade marginal price.
func PriceImpact(priceBefore, priceAfter decimal.Decimal) decimal.Decimal {
	return relativeDelta(priceBefore, priceAfter)
}

func relativeDelta(base, observed decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return observed.Sub(base).Abs().Div(base)
}

// Simulate composes the engine into one pure dry run of a trade: tokens
// out, the resulting reserves, and the derived price statistics. It is
// both the quote path and the core of actual settlement.
func Simulate(outcome string, betNet, yesReserve, noReserve, k decimal.Decimal) (*Quote, error) {
	priceBefore, err := Price(outcome, yesReserve, noReserve)
	if err != nil {
		return nil, err
	}

	var inputReserve, outputReserve decimal.Decimal
	if outcome == model.OutcomeYes {
		inputReserve, outputReserve = noReserve, yesReserve
	} else {
		inputReserve, outputReserve = yesReserve, noReserve
	}

	tokens, err := TokensOut(betNet, inputReserve, outputReserve, k)
	if err != nil {
		return nil, err
	}

	newInput := inputReserve.Add(betNet)
	newOutput := outputReserve.Sub(tokens)

	var newYes, newNo decimal.Decimal
	if outcome == model.OutcomeYes {
		newYes, newNo = newOutput, newInput
	} else {
		newYes, newNo = newInput, newOutput
	}

	priceAfter, err := Price(outcome, newYes, newNo)
	if err != nil {
		return nil, err
	}

	effective := EffectivePrice(betNet, tokens)

	return &Quote{
		TokensOut:      tokens,
		NewYesReserve:  newYes,
		NewNoReserve:   newNo,
		PriceBefore:    priceBefore,
		PriceAfter:     priceAfter,
		EffectivePrice: effective,
		Slippage:       Slippage(priceBefore, effective),
		PriceImpact:    PriceImpact(priceBefore, priceAfter),
	}, nil
}

// ValidateInvariant checks that yesReserve × noReserve stays within
// InvariantTolerance of k, relative to k. The slack absorbs decimal
// rounding accumulated over many trades.
func ValidateInvariant(yesReserve, noReserve, k decimal.Decimal) error {
	if k.LessThanOrEqual(decimal.Zero) {
		return ErrInvariantViolation
	}
	drift := yesReserve.Mul(noReserve).Sub(k).Abs().Div(k)
	if drift.GreaterThan(InvariantTolerance) {
		return ErrInvariantViolation
	}
	return nil
}
