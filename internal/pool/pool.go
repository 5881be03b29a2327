// Package pool implements liquidity pool initialization policy, sizing
// recommendations, and utilization/health diagnostics for CPMM markets.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pool

import (
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/cpmm"
	"github.com/oddsmill/bet-engine/internal/model"
)

var (
	// ErrPoolSizeOutOfRange is returned when an initial pool size falls
	// outside [MinSize, MaxSize].
	ErrPoolSizeOutOfRange = errors.New("pool: size out of allowed range")

	// ErrInvalidTargetPrice is returned when a price-biased pool targets
	// a probability outside (0,1).
	ErrInvalidTargetPrice = errors.New("pool: target price must be in (0,1)")

	// MinSize and MaxSize bound initial reserves.
	MinSize = decimal.NewFromInt(100)
	MaxSize = decimal.NewFromInt(100000)

	// targetTolerance is the absolute mismatch allowed between the
	// requested target price and the price implied by the initialized
	// reserves. Rounding at extreme targets near 0 or 1 is expected, so a
	// mismatch is logged rather than fatal.
	targetTolerance = decimal.NewFromFloat(0.001)
)

// Health thresholds.
var (
	utilizationWarn     = decimal.NewFromFloat(0.80)
	utilizationCritical = decimal.NewFromFloat(0.95)
	skewRatioInfo       = decimal.NewFromInt(10)
)

// InitSymmetric builds a pool with equal reserves and both prices at 0.5.
// k = size².
func InitSymmetric(size decimal.Decimal) (model.Pool, error) {
	if size.LessThan(MinSize) || size.GreaterThan(MaxSize) {
		return model.Pool{}, ErrPoolSizeOutOfRange
	}
	return model.Pool{
		YesReserve: size,
		NoReserve:  size,
		InvariantK: size.Mul(size),
	}, nil
}

// InitAsymmetric builds a pool whose YES price starts at targetYesPrice:
//
//	noReserve  = totalLiquidity × targetYesPrice
//	yesReserve = totalLiquidity − noReserve
//	k          = yesReserve × noReserve
//
// The implied price is verified against the target; a mismatch beyond the
// absolute tolerance is logged, not fatal.
func InitAsymmetric(totalLiquidity, targetYesPrice decimal.Decimal) (model.Pool, error) {
	if totalLiquidity.LessThan(MinSize) || totalLiquidity.GreaterThan(MaxSize) {
		return model.Pool{}, ErrPoolSizeOutOfRange
	}
	one := decimal.NewFromInt(1)
	if targetYesPrice.LessThanOrEqual(decimal.Zero) || targetYesPrice.GreaterThanOrEqual(one) {
		return model.Pool{}, ErrInvalidTargetPrice
	}

	noReserve := totalLiquidity.Mul(targetYesPrice)
	yesReserve := totalLiquidity.Sub(noReserve)
	p := model.Pool{
		YesReserve: yesReserve,
		NoReserve:  noReserve,
		InvariantK: yesReserve.Mul(noReserve),
	}

	implied, err := cpmm.Price(model.OutcomeYes, yesReserve, noReserve)
	if err != nil {
		return model.Pool{}, err
	}
	if implied.Sub(targetYesPrice).Abs().GreaterThan(targetTolerance) {
		slog.Warn("asymmetric pool price off target",
			"target", targetYesPrice.String(),
			"implied", implied.String(),
		)
	}
	return p, nil
}

// OptimalSize recommends an initial reserve size for expected traffic:
// max(2 × daily volume, 10 × max single bet), clamped to [MinSize, MaxSize].
func OptimalSize(expectedDailyVolume, expectedMaxBet decimal.Decimal) decimal.Decimal {
	byVolume := expectedDailyVolume.Mul(decimal.NewFromInt(2))
	byBet := expectedMaxBet.Mul(decimal.NewFromInt(10))

	size := byVolume
	if byBet.GreaterThan(size) {
		size = byBet
	}
	if size.LessThan(MinSize) {
		return MinSize
	}
	if size.GreaterThan(MaxSize) {
		return MaxSize
	}
	return size
}

// Utilization reports per-side and average fractional deviation of the
// current reserves from the initial reserve size.
type Utilization struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
	Avg decimal.Decimal `json:"avg"`
}

// UtilizationOf computes utilization for the current reserves against the
// initial per-side size.
func UtilizationOf(yesReserve, noReserve, initialSize decimal.Decimal) Utilization {
	if initialSize.LessThanOrEqual(decimal.Zero) {
		return Utilization{}
	}
	yes := yesReserve.Sub(initialSize).Abs().Div(initialSize)
	no := noReserve.Sub(initialSize).Abs().Div(initialSize)
	return Utilization{
		Yes: yes,
		No:  no,
		Avg: yes.Add(no).Div(decimal.NewFromInt(2)),
	}
}

// Report is the outcome of a pool health check. Warnings are ordered from
// most to least severe.
type Report struct {
	Healthy     bool        `json:"healthy"`
	Utilization Utilization `json:"utilization"`
	Warnings    []string    `json:"warnings"`
}

// Health diagnoses the pool against fixed thresholds: average utilization
// above 0.80 warns and above 0.95 is critical; a reserve skew beyond 10:1
// is informational; either reserve below MinSize is critical and marks the
// pool unhealthy.
func Health(yesReserve, noReserve, initialSize decimal.Decimal) Report {
	util := UtilizationOf(yesReserve, noReserve, initialSize)
	report := Report{Healthy: true, Utilization: util}

	if yesReserve.LessThan(MinSize) || noReserve.LessThan(MinSize) {
		report.Healthy = false
		report.Warnings = append(report.Warnings, "critical: reserve below minimum pool size")
	}
	if util.Avg.GreaterThan(utilizationCritical) {
		report.Healthy = false
		report.Warnings = append(report.Warnings, "critical: pool utilization above 95%")
	} else if util.Avg.GreaterThan(utilizationWarn) {
		report.Warnings = append(report.Warnings, "warning: pool utilization above 80%")
	}

	if skewed(yesReserve, noReserve) {
		report.Warnings = append(report.Warnings, "info: reserve skew beyond 10:1")
	}
	return report
}

func skewed(yesReserve, noReserve decimal.Decimal) bool {
	if yesReserve.LessThanOrEqual(decimal.Zero) || noReserve.LessThanOrEqual(decimal.Zero) {
		return true
	}
	hi, lo := yesReserve, noReserve
	if lo.GreaterThan(hi) {
		hi, lo = lo, hi
	}
	return hi.Div(lo).GreaterThan(skewRatioInfo)
}
