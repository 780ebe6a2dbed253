package rules

import (
	"errors"
	"testing"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/shopspring/decimal"
)

func mustParse(t *testing.T, src string) Expr {
	t.Helper()
	e, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse(%s) failed: %v", src, err)
	}
	return e
}

func TestParseRejects(t *testing.T) {
	tests := []string{
		`{"log": [1]}`,
		`{"map": [[1,2], {"var": ""}]}`,
		`{"+": 1, "-": 2}`,
		`{"/": [1]}`,
		`{"!": [1, 2]}`,
		`{"var": [1]}`,
		`[1, 2]`,
		`{"+": [1, {"substr": ["abc", 1]}]}`,
		`not json`,
	}

	for _, src := range tests {
		_, err := Parse([]byte(src))
		if !errors.Is(err, ErrInvalidRule) {
			t.Errorf("Parse(%s): expected ErrInvalidRule, got %v", src, err)
		}
	}
}

func TestParseValueRejectsFloat(t *testing.T) {
	_, err := ParseValue(map[string]any{"*": []any{1.5, 2}})
	if !errors.Is(err, ErrInvalidRule) {
		t.Errorf("Expected ErrInvalidRule for float literal, got %v", err)
	}
}

func TestEval(t *testing.T) {
	data := map[string]any{
		"qty":    "12",
		"price":  "10.25",
		"region": "west",
		"item":   map[string]any{"weight": "3"},
		"rush":   true,
	}

	tests := []struct {
		src  string
		want string
	}{
		{`{"*": [{"var": "qty"}, {"var": "price"}]}`, "123"},
		{`{"+": [1, 2, 3]}`, "6"},
		{`{"-": [10, 4]}`, "6"},
		{`{"-": [4]}`, "-4"},
		{`{"/": [10, 4]}`, "2.5"},
		{`{"min": [3, 1, 2]}`, "1"},
		{`{"max": [3, 1, 2]}`, "3"},
		{`{"*": [{"var": "item.weight"}, 2]}`, "6"},
		{`{"+": [{"var": ["bonus", 5]}, 1]}`, "6"},
		{`{"if": [{"==": [{"var": "region"}, "west"]}, 100, 200]}`, "100"},
		{`{"if": [{"==": [{"var": "region"}, "east"]}, 100, {">": [{"var": "qty"}, 10]}, 50, 0]}`, "50"},
		{`{"if": [{"and": [{"var": "rush"}, {"<=": [1, {"var": "qty"}, 20]}]}, 7, 0]}`, "7"},
		{`{"if": [{"!": {"var": "rush"}}, 1, 2]}`, "2"},
	}

	for _, tt := range tests {
		v, err := Eval(mustParse(t, tt.src), data)
		if err != nil {
			t.Errorf("Eval(%s) failed: %v", tt.src, err)
			continue
		}
		d, ok := v.(decimal.Decimal)
		if !ok {
			t.Errorf("Eval(%s) returned %T", tt.src, v)
			continue
		}
		if !d.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Eval(%s) = %s, want %s", tt.src, d, tt.want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		src  string
		data map[string]any
	}{
		{`{"/": [1, 0]}`, nil},
		{`{"var": "missing"}`, map[string]any{}},
		{`{"+": [{"var": "name"}, 1]}`, map[string]any{"name": "bob"}},
		{`{"*": [{"var": "x"}, 2]}`, map[string]any{"x": 2.5}},
	}

	for _, tt := range tests {
		_, err := Eval(mustParse(t, tt.src), tt.data)
		if !errors.Is(err, ErrCalculation) {
			t.Errorf("Eval(%s): expected ErrCalculation, got %v", tt.src, err)
		}
	}
}

func TestVariables(t *testing.T) {
	e := mustParse(t, `{"if": [{"var": "rush"}, {"*": [{"var": "qty"}, {"var": ["price", 1]}]}, {"var": "qty"}]}`)
	got := Variables(e)
	want := []string{"price", "qty", "rush"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}
}

func TestTransactAmount(t *testing.T) {
	rule := mustParse(t, `{"*": [{"var": "qty"}, {"var": "price"}]}`)

	got, err := TransactAmount(rule, map[string]any{"qty": "3", "price": "33.333"})
	if err != nil {
		t.Fatalf("TransactAmount failed: %v", err)
	}
	if got != 9999 {
		t.Errorf("Expected 9999 cents (truncated), got %d", got)
	}

	got, err = TransactAmount(rule, map[string]any{"adj": "123.456"})
	if err != nil {
		t.Fatalf("TransactAmount with override failed: %v", err)
	}
	if got != 12345 {
		t.Errorf("Expected override 12345, got %d", got)
	}

	if _, err := TransactAmount(rule, map[string]any{"adj": "abc"}); !errors.Is(err, ErrCalculation) {
		t.Errorf("Expected ErrCalculation for bad override, got %v", err)
	}
	if _, err := TransactAmount(nil, map[string]any{"qty": "1"}); !errors.Is(err, ErrCalculation) {
		t.Errorf("Expected ErrCalculation for nil rule, got %v", err)
	}
	if _, err := TransactAmount(mustParse(t, `{"==": [1, 1]}`), nil); !errors.Is(err, ErrCalculation) {
		t.Errorf("Expected ErrCalculation for boolean result, got %v", err)
	}
}

func TestDeriveFees(t *testing.T) {
	tests := []struct {
		amount, feePct, feeAmt, advPct string
		fee, advance                   string
	}{
		{"1000.00", "0.05", "0", "0.80", "50.00", "750.00"},
		{"99.99", "0.0333", "0.25", "0.90", "3.57", "86.42"},
		{"10.00", "0.05", "9.00", "0.80", "9.50", "0"},
		{"0.01", "0", "0", "0.80", "0", "0"},
	}

	for _, tt := range tests {
		f := DeriveFees(
			decimal.RequireFromString(tt.amount),
			decimal.RequireFromString(tt.feePct),
			decimal.RequireFromString(tt.feeAmt),
			decimal.RequireFromString(tt.advPct),
		)
		if !f.ServiceFee.Equal(decimal.RequireFromString(tt.fee)) {
			t.Errorf("DeriveFees(%s) fee = %s, want %s", tt.amount, money.Format(f.ServiceFee), tt.fee)
		}
		if !f.Advance.Equal(decimal.RequireFromString(tt.advance)) {
			t.Errorf("DeriveFees(%s) advance = %s, want %s", tt.amount, money.Format(f.Advance), tt.advance)
		}
	}
}
