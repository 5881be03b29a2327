// Package margin applies the house fee to bet amounts and display prices.
// The fee rate is process-wide configuration: it is validated once at load
// time and passed into these pure functions by the caller.
//
// All monetary values use shopspring/decimal — never float64 for money.
package margin

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when a gross amount is not positive.
	ErrInvalidAmount = errors.New("margin: amount must be positive")

	// ErrDivideByZero is returned when a break-even price is requested
	// for zero tokens.
	ErrDivideByZero = errors.New("margin: tokens received must be non-zero")

	// MinFeeRate and MaxFeeRate bound the configurable fee rate.
	MinFeeRate = decimal.NewFromFloat(0.001)
	MaxFeeRate = decimal.NewFromFloat(0.10)

	// DefaultFeeRate replaces an out-of-range configured rate.
	DefaultFeeRate = decimal.NewFromFloat(0.02)
)

// NormalizeRate validates a configured fee rate against [MinFeeRate,
// MaxFeeRate]. An out-of-range rate is replaced by DefaultFeeRate; the
// second return reports whether the replacement happened so the caller
// can log a startup warning. Never a hard failure.
func NormalizeRate(rate decimal.Decimal) (decimal.Decimal, bool) {
	if rate.LessThan(MinFeeRate) || rate.GreaterThan(MaxFeeRate) {
		return DefaultFeeRate, true
	}
	return rate, false
}

// ApplyFee splits a gross stake into the net amount used for pricing and
// the house fee. net + fee always equals gross exactly.
func ApplyFee(gross, rate decimal.Decimal) (net, fee decimal.Decimal, err error) {
	if gross.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, decimal.Decimal{}, ErrInvalidAmount
	}
	fee = gross.Mul(rate)
	net = gross.Sub(fee)
	return net, fee, nil
}

// PriceSpread derives display-only bid/ask prices around a base price:
//
//	buy  = min(1, base × (1 + rate/2))
//	sell = max(0, base × (1 − rate/2))
//
// Never used for settlement math.
func PriceSpread(basePrice, rate decimal.Decimal) (buy, sell decimal.Decimal) {
	one := decimal.NewFromInt(1)
	half := rate.Div(decimal.NewFromInt(2))

	buy = basePrice.Mul(one.Add(half))
	if buy.GreaterThan(one) {
		buy = one
	}
	sell = basePrice.Mul(one.Sub(half))
	if sell.LessThan(decimal.Zero) {
		sell = decimal.Zero
	}
	return buy, sell
}

// BreakEvenPrice is the average price paid per token for a bet:
// betAmount / tokensReceived.
func BreakEvenPrice(betAmount, tokensReceived decimal.Decimal) (decimal.Decimal, error) {
	if tokensReceived.IsZero() {
		return decimal.Decimal{}, ErrDivideByZero
	}
	return betAmount.Div(tokensReceived), nil
}
