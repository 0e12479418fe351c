// Package money provides the fixed-precision decimal arithmetic every rate and
// fee computation in locatefeesvc must go through. Floating point never
// participates in a value the API reports: it produces non-deterministic fee
// breakdowns and fails audit reconciliation.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned when an intermediate product exceeds the agreed bound.
var ErrOverflow = errors.New("money: arithmetic overflow")

// MaxMagnitude bounds position_value x rate x loan_days (10^18 x 10^-10, per spec).
var MaxMagnitude = decimal.New(1, 18)

// Decimal is a thin alias so call sites don't import shopspring/decimal directly.
type Decimal = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// NewFromFloat builds a Decimal from a float64 via its shortest decimal text.
// The upstream clients decode wire values through json.Number and
// NewFromString instead; callers should prefer NewFromString whenever the
// value is available as a string.
func NewFromFloat(f float64) Decimal {
	return decimal.NewFromFloat(f)
}

// NewFromString parses a decimal literal, the preferred path for anything
// arriving over the wire or out of the database.
func NewFromString(s string) (Decimal, error) {
	return decimal.NewFromString(s)
}

// NewFromInt builds an exact decimal from an integer (loan_days, etc).
func NewFromInt(i int64) Decimal {
	return decimal.NewFromInt(i)
}

// Add, Mul, Div, Sub defer straight to shopspring/decimal; kept here as named
// wrappers so every arithmetic call site in the engine reads as "money.Add"
// rather than reaching past this package for decimal directly.
func Add(a, b Decimal) Decimal { return a.Add(b) }
func Sub(a, b Decimal) Decimal { return a.Sub(b) }
func Mul(a, b Decimal) Decimal { return a.Mul(b) }

// Div divides a by b at a high internal scale (28 decimal places), deferring
// any display rounding to Quantize.
func Div(a, b Decimal) Decimal {
	return a.DivRound(b, 28)
}

// Quantize banker-rounds v to scale decimal places (scale=4 for every public
// fee/rate field). Ties round to the nearest even digit.
func Quantize(v Decimal, scale int32) Decimal {
	return v.RoundBank(scale)
}

// GuardMagnitude fails CALCULATION_ERROR-worthy overflow before it propagates
// into a response. position x dailyRate x loanDays is the only product the
// fee engine forms that could plausibly run away.
func GuardMagnitude(v Decimal) error {
	if v.Abs().GreaterThan(MaxMagnitude) {
		return fmt.Errorf("%w: magnitude %s exceeds bound %s", ErrOverflow, v.String(), MaxMagnitude.String())
	}
	return nil
}

// Max returns the larger of a, b — used by the rate engine's post-adjustment floor.
func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// IsNegative reports whether v < 0; the calculate-locate handler treats a
// negative fee component as an invariant breach, never a legitimate value.
func IsNegative(v Decimal) bool {
	return v.Sign() < 0
}
