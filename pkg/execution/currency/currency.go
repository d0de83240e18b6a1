// Package currency provides the fixed-point decimal arithmetic the host API
// exposes to contracts as `currency`. All monetary math in contracts goes
// through here; no binary floating point is reachable from contract code.
package currency

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrPrecision is returned when an amount carries more fractional digits
// than its table's configured precision allows.
var ErrPrecision = errors.New("currency: amount exceeds configured precision")

// Amount wraps decimal.Decimal so contract code never touches float64.
type Amount struct {
	d decimal.Decimal
}

// Parse reads a decimal string (as contracts always pass amounts as JSON
// strings, never numbers) into an Amount.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d: d}, nil
}

// Zero is the additive identity.
func Zero() Amount { return Amount{d: decimal.Zero} }

// String renders the amount back to its canonical decimal string form.
func (a Amount) String() string { return a.d.String() }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Mul returns a * b.
func (a Amount) Mul(b Amount) Amount { return Amount{d: a.d.Mul(b.d)} }

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

// IsNegative reports whether the amount is strictly below zero — contracts
// use this to reject overdraws since there is no unsigned decimal type.
func (a Amount) IsNegative() bool { return a.d.IsNegative() }

// RoundToPrecision truncates a to the given number of fractional digits,
// matching the "user-selectable precision" requirement; tables that declare
// a token's precision use this before persisting a balance.
func RoundToPrecision(a Amount, precision int32) Amount {
	return Amount{d: a.d.Truncate(precision)}
}

// CheckPrecision reports ErrPrecision if a carries more fractional digits
// than precision allows.
func CheckPrecision(a Amount, precision int32) error {
	if a.d.Exponent() < -precision {
		return ErrPrecision
	}
	return nil
}
