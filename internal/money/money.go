// Package money provides the arbitrary-precision decimal type used for
// every balance and commission figure in the arbitration engine. Binary
// floats are never used for monetary values (spec §9).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by account balances.
const Scale = 4

// FeeScale is the number of fractional digits used when rounding a
// per-player commission fee before it is multiplied back out.
const FeeScale = 2

// Amount wraps decimal.Decimal so every arithmetic op in the ledger and
// settlement paths goes through the same rounding rule.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// FromInt builds an Amount from a whole-token integer (e.g. a bet size
// expressed in tokens).
func FromInt(v int64) Amount {
	return Amount{d: decimal.NewFromInt(v)}
}

// FromString parses a decimal string (e.g. a wire "12.5000" value).
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Amount{d: d.RoundBank(Scale)}, nil
}

// Add, Sub, and Mul all round half-even to the balance scale, per spec
// §9's explicit rounding rule ("an explicit rounding rule: half-even"),
// not just the FeeScale path.
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d).RoundBank(Scale)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d).RoundBank(Scale)} }

// Mul multiplies by a plain rate (e.g. a commission rate) and rounds
// half-even to the balance scale.
func (a Amount) Mul(rate decimal.Decimal) Amount {
	return Amount{d: a.d.Mul(rate).RoundBank(Scale)}
}

// RoundFee rounds to FeeScale using half-even (banker's rounding), per
// spec §9's explicit rounding rule for per-player fee computation.
func (a Amount) RoundFee() Amount {
	return Amount{d: a.d.RoundBank(FeeScale)}
}

func (a Amount) Cmp(b Amount) int       { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool    { return a.d.Equal(b.d) }
func (a Amount) IsNegative() bool       { return a.d.IsNegative() }
func (a Amount) IsZero() bool           { return a.d.IsZero() }
func (a Amount) Neg() Amount            { return Amount{d: a.d.Neg()} }
func (a Amount) String() string         { return a.d.StringFixed(Scale) }
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := FromString(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Sum adds a slice of Amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
