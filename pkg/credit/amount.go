package credit

import (
	"github.com/shopspring/decimal"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Decimals is the number of base-unit decimal places in one credit.
const Decimals = 18

// Credits converts whole credits to base units.
func Credits(n int64) decimal.Decimal {
	return decimal.New(n, Decimals)
}

// Units returns n base units.
func Units(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// ToCredits converts base units to (approximate) whole credits.
func ToCredits(a decimal.Decimal) float64 {
	return a.Shift(-Decimals).InexactFloat64()
}

// floorDiv returns floor(a / b) for non-negative integer amounts.
func floorDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	q, _ := a.QuoRem(b, 0)
	return q
}

// mulFloor returns floor(a * f) in base units.
func mulFloor(a decimal.Decimal, f float64) decimal.Decimal {
	return a.Mul(decimal.NewFromFloat(f)).Floor()
}

func validAmount(op string, a decimal.Decimal) error {
	if a.Sign() <= 0 {
		return kerr.ErrInvalidAmount.With(op, "amount %s must be positive", a)
	}
	if !a.Equal(a.Truncate(0)) {
		return kerr.ErrInvalidAmount.With(op, "amount %s is not a whole number of base units", a)
	}
	return nil
}
