// Package money holds the fixed-point helpers used for every amount and
// quantity in the core. Values are shopspring decimals kept at three
// fractional digits; float64 never enters the arithmetic.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const Scale = 3

var Zero = decimal.Zero

// Round quantizes d to Scale digits, rounding half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

func Parse(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Zero, fmt.Errorf("empty decimal")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", raw, err)
	}
	return Round(d), nil
}

// MustParse is meant for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// NonNegative returns max(d, 0).
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Mul multiplies and rounds to Scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Mul(b))
}

func Equal(a, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// String renders d with exactly Scale fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
