// Package odds converts between probability and decimal-odds
// representations, computes payouts, and formats odds for display.
// All functions are pure; formatting styles share no state.
package odds

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidProbability is returned for probabilities outside (0,1).
	ErrInvalidProbability = errors.New("odds: probability must be in (0,1)")

	// ErrInvalidOdds is returned for decimal odds not greater than 1.
	ErrInvalidOdds = errors.New("odds: decimal odds must be greater than 1")
)

// Formatting styles.
const (
	StyleDecimal    = "decimal"
	StyleAmerican   = "american"
	StyleFractional = "fractional"
)

// Odds categories, ordered from longest to shortest.
const (
	CategoryLongShot      = "long_shot"      // odds ≥ 10
	CategoryUnderdog      = "underdog"       // odds ≥ 5
	CategoryModerate      = "moderate"       // odds ≥ 2.5
	CategoryFavorite      = "favorite"       // odds ≥ 1.5
	CategoryHeavyFavorite = "heavy_favorite" // odds < 1.5
)

var (
	one = decimal.NewFromInt(1)

	// impliedCap keeps margin-adjusted implied probability strictly
	// below 1 so odds never collapse to or under evens.
	impliedCap = decimal.NewFromFloat(0.99)

	// Bounds for volume-derived odds when one side has no volume.
	minVolumeOdds = decimal.NewFromFloat(1.01)
	maxVolumeOdds = decimal.NewFromInt(100)
)

// ProbabilityToOdds maps a probability in (0,1) to decimal odds 1/p.
func ProbabilityToOdds(p decimal.Decimal) (decimal.Decimal, error) {
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(one) {
		return decimal.Decimal{}, ErrInvalidProbability
	}
	return one.Div(p), nil
}

// OddsToProbability maps decimal odds greater than 1 back to 1/o.
func OddsToProbability(o decimal.Decimal) (decimal.Decimal, error) {
	if o.LessThanOrEqual(one) {
		return decimal.Decimal{}, ErrInvalidOdds
	}
	return one.Div(o), nil
}

// Payout is the return breakdown of a winning stake at given odds.
type Payout struct {
	Payout decimal.Decimal `json:"payout"` // stake × odds
	Profit decimal.Decimal `json:"profit"` // payout − stake
	ROI    decimal.Decimal `json:"roi"`    // profit / stake × 100
}

// ComputePayout returns payout, profit, and ROI for a stake at decimal
// odds.
func ComputePayout(stake, o decimal.Decimal) Payout {
	payout := stake.Mul(o)
	profit := payout.Sub(stake)
	roi := decimal.Zero
	if stake.IsPositive() {
		roi = profit.Div(stake).Mul(decimal.NewFromInt(100))
	}
	return Payout{Payout: payout, Profit: profit, ROI: roi}
}

// ApplyMargin raises the implied probability by the house rate, reducing
// the payout: 1 / min(0.99, (1/odds) × (1+rate)). The cap keeps the
// implied probability from reaching 1.
func ApplyMargin(o, rate decimal.Decimal) (decimal.Decimal, error) {
	if o.LessThanOrEqual(one) {
		return decimal.Decimal{}, ErrInvalidOdds
	}
	implied := one.Div(o).Mul(one.Add(rate))
	if implied.GreaterThan(impliedCap) {
		implied = impliedCap
	}
	return one.Div(implied), nil
}

// Format renders decimal odds in one of three display styles. Unknown
// styles fall back to decimal.
func Format(o decimal.Decimal, style string) string {
	switch style {
	case StyleAmerican:
		return formatAmerican(o)
	case StyleFractional:
		return formatFractional(o)
	default:
		return o.StringFixed(2)
	}
}

// formatAmerican renders "+150" for odds ≥ 2 and "-200" for odds below 2.
// Odds at or under evens have no american form and render as decimal.
func formatAmerican(o decimal.Decimal) string {
	if o.LessThanOrEqual(one) {
		return o.StringFixed(2)
	}
	hundred := decimal.NewFromInt(100)
	if o.GreaterThanOrEqual(decimal.NewFromInt(2)) {
		return "+" + o.Sub(one).Mul(hundred).Round(0).String()
	}
	return "-" + hundred.Div(o.Sub(one)).Round(0).String()
}

// formatFractional renders odds as a GCD-reduced fraction of the profit
// over the stake, e.g. 2.50 → "3/2".
func formatFractional(o decimal.Decimal) string {
	num := o.Sub(one).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if num <= 0 {
		return "0/1"
	}
	den := int64(100)
	g := gcd(num, den)
	return fmt.Sprintf("%d/%d", num/g, den/g)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Category buckets decimal odds, first match wins.
func Category(o decimal.Decimal) string {
	switch {
	case o.GreaterThanOrEqual(decimal.NewFromInt(10)):
		return CategoryLongShot
	case o.GreaterThanOrEqual(decimal.NewFromInt(5)):
		return CategoryUnderdog
	case o.GreaterThanOrEqual(decimal.NewFromFloat(2.5)):
		return CategoryModerate
	case o.GreaterThanOrEqual(decimal.NewFromFloat(1.5)):
		return CategoryFavorite
	default:
		return CategoryHeavyFavorite
	}
}

// FromVolume derives parimutuel-style odds from traded volume on each
// side. With no volume at all both sides are even money at 2.0; otherwise
// each side pays total/ownVolume, so odds grow with the opposite side's
// volume. A side with no volume is clamped to the allowed odds range.
func FromVolume(yesVolume, noVolume decimal.Decimal) (yesOdds, noOdds decimal.Decimal) {
	total := yesVolume.Add(noVolume)
	if total.IsZero() {
		two := decimal.NewFromInt(2)
		return two, two
	}
	return volumeOdds(total, yesVolume), volumeOdds(total, noVolume)
}

func volumeOdds(total, side decimal.Decimal) decimal.Decimal {
	if side.LessThanOrEqual(decimal.Zero) {
		return maxVolumeOdds
	}
	o := total.Div(side)
	if o.LessThan(minVolumeOdds) {
		return minVolumeOdds
	}
	if o.GreaterThan(maxVolumeOdds) {
		return maxVolumeOdds
	}
	return o
}
