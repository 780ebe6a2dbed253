package money

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1000.00", 100000},
		{"49.99", 4999},
		{"0.019", 1},
		{"-0.019", -1},
		{"12.345", 1234},
	}

	for _, tt := range tests {
		got := ToMinor(decimal.RequireFromString(tt.in))
		if got != tt.want {
			t.Errorf("ToMinor(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if FromMinor(39999).String() != "399.99" {
		t.Errorf("Expected 399.99, got %s", FromMinor(39999))
	}
}

func TestBasisPoints(t *testing.T) {
	if got := ToBasisPoints(decimal.RequireFromString("0.0500")); got != 500 {
		t.Errorf("Expected 500, got %d", got)
	}
	if got := FromBasisPoints(8000); !got.Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("Expected 0.8, got %s", got)
	}
	if FormatPercent(FromBasisPoints(500)) != "0.0500" {
		t.Errorf("Unexpected percent format %s", FormatPercent(FromBasisPoints(500)))
	}
}

func TestFloor2(t *testing.T) {
	tests := []struct{ in, want string }{
		{"10.999", "10.99"},
		{"10.001", "10"},
		{"-0.001", "-0.01"},
		{"5", "5"},
	}
	for _, tt := range tests {
		got := Floor2(decimal.RequireFromString(tt.in))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Floor2(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFromAny(t *testing.T) {
	valid := []any{json.Number("12.50"), "12.50", 12, int64(12), decimal.NewFromInt(12)}
	for _, v := range valid {
		if _, err := FromAny(v); err != nil {
			t.Errorf("FromAny(%#v) unexpected error: %v", v, err)
		}
	}

	if _, err := FromAny(12.5); !errors.Is(err, ErrFloat) {
		t.Errorf("Expected ErrFloat, got %v", err)
	}
	if _, err := FromAny(nil); err == nil {
		t.Error("Expected error for nil")
	}
	if _, err := FromAny("abc"); err == nil {
		t.Error("Expected error for non-numeric string")
	}
}

func TestHasPlaces(t *testing.T) {
	if !HasPlaces(decimal.RequireFromString("1.25"), 2) {
		t.Error("Expected 1.25 to fit two places")
	}
	if HasPlaces(decimal.RequireFromString("1.255"), 2) {
		t.Error("Expected 1.255 to exceed two places")
	}
	if Format(decimal.NewFromInt(3)) != "3.00" {
		t.Errorf("Unexpected format %s", Format(decimal.NewFromInt(3)))
	}
}
