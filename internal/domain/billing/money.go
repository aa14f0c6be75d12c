package billing

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount coerces a loosely typed money value into a decimal. The billing
// API and the desk forms send money as numbers, numeric strings or nothing at
// all; anything that is not a finite number comes back as zero.
func ParseAmount(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case Amount:
		return x.Decimal()
	case string:
		return parseNumeric(x)
	case json.Number:
		return parseNumeric(x.String())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		return bounded(decimal.NewFromFloat(x))
	case float32:
		return ParseAmount(float64(x))
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	default:
		return decimal.Zero
	}
}

// ParseNonNegative is ParseAmount clamped at zero. Quantities and rates are
// never negative.
func ParseNonNegative(v any) decimal.Decimal {
	d := ParseAmount(v)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseQuantity reads a typed quantity. Blank, garbage and negative input
// count as zero.
func ParseQuantity(s string) decimal.Decimal {
	return ParseNonNegative(s)
}

func parseNumeric(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return bounded(d)
}

// Limits on accepted money values. Anything outside them reads as zero, so a
// value like "1e50000000" can not make formatting build a huge string.
const (
	maxScale         = 12
	maxIntegerDigits = 15
)

func bounded(d decimal.Decimal) decimal.Decimal {
	exp := d.Exponent()
	if exp < -maxScale || exp > maxIntegerDigits {
		return decimal.Zero
	}
	digits := len(strings.TrimPrefix(d.Coefficient().String(), "-"))
	if digits+int(exp) > maxIntegerDigits {
		return decimal.Zero
	}
	return d
}

// FormatMoney renders d with exactly two decimal places.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Rupees renders d as a display amount, e.g. "₹ 600.00".
func Rupees(d decimal.Decimal) string {
	return "₹ " + FormatMoney(d)
}

// Amount is a money value decoded from JSON that may be a number, a numeric
// string, null or garbage. Decoding never fails.
type Amount decimal.Decimal

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount { return Amount(d) }

// Decimal returns the underlying decimal.
func (a Amount) Decimal() decimal.Decimal { return decimal.Decimal(a) }

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*a = Amount(decimal.Zero)
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*a = Amount(decimal.Zero)
			return nil
		}
		*a = Amount(parseNumeric(s))
	default:
		*a = Amount(parseNumeric(string(data)))
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal().String()), nil
}
