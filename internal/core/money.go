// Package core provides the ledger's value types, entities and errors.
//
// This file contains the exact decimal Money type. Amounts are stored with
// two fractional digits; parsing rounds half away from zero on the third
// digit, arithmetic is exact, and comparisons never go through floats.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits kept by Money.
const MoneyPlaces = 2

// Money is a signed, exact decimal amount in the reporting currency.
// The zero value is a valid zero amount.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// NewMoney wraps a decimal, rounding it to cents.
func NewMoney(d decimal.Decimal) Money {
	return Money{d: d.Round(MoneyPlaces)}
}

// MoneyFromCents builds an amount from minor units.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -MoneyPlaces)}
}

// MustMoney parses s and panics on error. Intended for tests and fixtures.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMoney converts a decimal string to Money.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted, as is a
// leading sign. Digits past the second decimal place are rounded half away
// from zero.
//
// Examples:
//
//	ParseMoney("12.34")  -> 12.34
//	ParseMoney("-12,34") -> -12.34
//	ParseMoney("1.005")  -> 1.01
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	body := strings.TrimLeft(s, "+-")
	if len(s)-len(body) > 1 || body == "" {
		return Money{}, ErrInvalidAmount
	}
	parts := strings.Split(body, ".")
	if len(parts) > 2 {
		return Money{}, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return Money{}, ErrInvalidAmount
			}
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return NewMoney(d), nil
}

// Decimal exposes the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// DivInt divides by n and rounds to cents. n must be non-zero.
func (m Money) DivInt(n int64) Money {
	return Money{d: m.d.DivRound(decimal.NewFromInt(n), MoneyPlaces)}
}

// Ratio returns m/o as a float for display purposes (progress bars).
// Returns 0 when o is zero.
func (m Money) Ratio(o Money) float64 {
	if o.d.IsZero() {
		return 0
	}
	return m.d.Div(o.d).InexactFloat64()
}

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }
func (m Money) IsZero() bool { return m.d.IsZero() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.d.LessThan(o.d) {
		return o
	}
	return m
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 {
	return m.d.Shift(MoneyPlaces).IntPart()
}

// String formats the amount with exactly two decimals, e.g. "-12.30".
func (m Money) String() string {
	return m.d.StringFixed(MoneyPlaces)
}

// MarshalText implements encoding.TextMarshaler so JSON and YAML carry the
// amount as an exact decimal string.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Money) UnmarshalText(b []byte) error {
	v, err := ParseMoney(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// SumMoney adds all amounts.
func SumMoney(ms ...Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}
