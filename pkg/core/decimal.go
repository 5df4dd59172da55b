package core

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// decimalContext is shared by all arithmetic on the data path.
var decimalContext = apd.BaseContext.WithPrecision(34)

// ParseDecimal parses s into a decimal.
func ParseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := decimalContext.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustDecimal parses s and panics on malformed input. Intended for constants.
func MustDecimal(s string) *apd.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// AddDecimal returns x + y. A nil operand yields nil.
func AddDecimal(x, y *apd.Decimal) *apd.Decimal {
	if x == nil || y == nil {
		return nil
	}
	d := new(apd.Decimal)
	if _, err := decimalContext.Add(d, x, y); err != nil {
		return nil
	}
	return d
}

// SubDecimal returns x - y. A nil operand yields nil.
func SubDecimal(x, y *apd.Decimal) *apd.Decimal {
	if x == nil || y == nil {
		return nil
	}
	d := new(apd.Decimal)
	if _, err := decimalContext.Sub(d, x, y); err != nil {
		return nil
	}
	return d
}

// MulDecimal returns x * y. A nil operand yields nil.
func MulDecimal(x, y *apd.Decimal) *apd.Decimal {
	if x == nil || y == nil {
		return nil
	}
	d := new(apd.Decimal)
	if _, err := decimalContext.Mul(d, x, y); err != nil {
		return nil
	}
	return d
}

// QuoDecimal returns x / y, or nil when an operand is nil or y is zero. The
// quotient carries no trailing zeros; callers quantize when they need a scale.
func QuoDecimal(x, y *apd.Decimal) *apd.Decimal {
	if x == nil || y == nil || y.IsZero() {
		return nil
	}
	d := new(apd.Decimal)
	if _, err := decimalContext.Quo(d, x, y); err != nil {
		return nil
	}
	return trimZeros(d)
}

// trimZeros drops trailing fractional zeros without moving into exponent
// notation for integers.
func trimZeros(d *apd.Decimal) *apd.Decimal {
	out := new(apd.Decimal)
	if _, err := out.Reduce(d); err != nil {
		return d
	}
	if out.Exponent > 0 {
		if _, err := decimalContext.Quantize(out, out, 0); err != nil {
			return d
		}
	}
	return out
}

// MaxZero clamps d to be non-negative.
func MaxZero(d *apd.Decimal) *apd.Decimal {
	if d == nil {
		return nil
	}
	if d.Sign() < 0 {
		return apd.New(0, 0)
	}
	return d
}

// TruncateDecimal cuts d to the given number of fractional digits, rounding
// toward zero. The result keeps exactly that many digits.
func TruncateDecimal(d *apd.Decimal, places int32) *apd.Decimal {
	return quantize(d, places, apd.RoundDown)
}

// RoundDecimal rounds d half-up to the given number of fractional digits.
func RoundDecimal(d *apd.Decimal, places int32) *apd.Decimal {
	return quantize(d, places, apd.RoundHalfUp)
}

func quantize(d *apd.Decimal, places int32, rounding apd.Rounder) *apd.Decimal {
	if d == nil {
		return nil
	}
	ctx := *decimalContext
	ctx.Rounding = rounding
	out := new(apd.Decimal)
	if _, err := ctx.Quantize(out, d, -places); err != nil {
		return new(apd.Decimal).Set(d)
	}
	if out.IsZero() {
		out.Negative = false
	}
	return out
}

// FormatDecimal renders d in plain notation without trailing zeros, the form
// the exchange expects in request parameters.
func FormatDecimal(d *apd.Decimal) string {
	if d == nil {
		return ""
	}
	reduced, _ := new(apd.Decimal).Reduce(d)
	return reduced.Text('f')
}
