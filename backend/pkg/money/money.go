// Package money converts between ledger scaled integers and decimals.
//
// Amounts live on the ledger as cents and percentages as ten-thousandths.
// Every conversion into the ledger truncates toward zero.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrFloat is returned for float64 input, which cannot carry exact money.
var ErrFloat = errors.New("floating point value not accepted")

const (
	AmountPlaces  = 2
	PercentPlaces = 4
)

var (
	hundred     = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)
)

// FromMinor turns cents into a decimal amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -AmountPlaces)
}

// ToMinor scales an amount to cents, truncating toward zero.
func ToMinor(d decimal.Decimal) int64 {
	return d.Mul(hundred).Truncate(0).IntPart()
}

// FromBasisPoints turns a ledger percentage (4 places) into a decimal fraction.
func FromBasisPoints(v int64) decimal.Decimal {
	return decimal.New(v, -PercentPlaces)
}

// ToBasisPoints scales a fraction to the ledger's 4 place integer.
func ToBasisPoints(d decimal.Decimal) int64 {
	return d.Mul(tenThousand).Truncate(0).IntPart()
}

// Floor2 rounds down to whole cents.
func Floor2(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(AmountPlaces)
}

// Format renders an amount with exactly two places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(AmountPlaces)
}

// FormatPercent renders a fraction with exactly four places.
func FormatPercent(d decimal.Decimal) string {
	return d.StringFixed(PercentPlaces)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// FromAny converts decoded JSON or typed input into a decimal.
// json.Number, strings and integers are accepted; float64 is not.
func FromAny(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty numeric value")
		}
		return decimal.NewFromString(s)
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float32, float64:
		return decimal.Zero, ErrFloat
	case nil:
		return decimal.Zero, fmt.Errorf("missing numeric value")
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// HasPlaces reports whether d needs no more than places decimal digits.
func HasPlaces(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
