// Package rules evaluates contract transaction logic.
//
// Logic is a JSON-logic document restricted to arithmetic, comparison,
// boolean operators and if. Parsing rejects anything else, so a stored rule
// can never reach an operator the engine has not vetted.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRule = errors.New("invalid rule")
	ErrCalculation = errors.New("calculation error")
)

// Expr is a parsed rule node.
type Expr interface {
	eval(env map[string]any) (any, error)
	vars(into map[string]struct{})
}

type varExpr struct {
	path     string
	fallback Expr
}

type litExpr struct {
	value any // decimal.Decimal, string, bool or nil
}

type opExpr struct {
	op   string
	args []Expr
}

type arity struct{ min, max int } // max < 0 means unbounded

var allowed = map[string]arity{
	"+":   {1, -1},
	"-":   {1, 2},
	"*":   {1, -1},
	"/":   {2, 2},
	"min": {1, -1},
	"max": {1, -1},
	"==":  {2, 2},
	"!=":  {2, 2},
	"<":   {2, 3},
	"<=":  {2, 3},
	">":   {2, 2},
	">=":  {2, 2},
	"and": {1, -1},
	"or":  {1, -1},
	"!":   {1, 1},
	"if":  {1, -1},
}

// Parse reads a rule from its JSON text.
func Parse(data []byte) (Expr, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return ParseValue(v)
}

// ParseValue builds a rule from an already decoded JSON value. Numbers must
// be json.Number, never float64.
func ParseValue(v any) (Expr, error) {
	switch n := v.(type) {
	case map[string]any:
		if len(n) != 1 {
			return nil, fmt.Errorf("%w: operator object must have exactly one key, got %d", ErrInvalidRule, len(n))
		}
		for op, rawArgs := range n {
			return parseOp(op, rawArgs)
		}
	case []any:
		return nil, fmt.Errorf("%w: bare arrays are not expressions", ErrInvalidRule)
	case float32, float64:
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, money.ErrFloat)
	}

	lit, err := literal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return litExpr{value: lit}, nil
}

func parseOp(op string, rawArgs any) (Expr, error) {
	var raw []any
	if list, ok := rawArgs.([]any); ok {
		raw = list
	} else {
		raw = []any{rawArgs}
	}

	if op == "var" {
		return parseVar(raw)
	}

	a, ok := allowed[op]
	if !ok {
		return nil, fmt.Errorf("%w: operator %q is not allowed", ErrInvalidRule, op)
	}
	if len(raw) < a.min || (a.max >= 0 && len(raw) > a.max) {
		return nil, fmt.Errorf("%w: operator %q takes %d..%d arguments, got %d", ErrInvalidRule, op, a.min, a.max, len(raw))
	}

	args := make([]Expr, len(raw))
	for i, r := range raw {
		e, err := ParseValue(r)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}
	return opExpr{op: op, args: args}, nil
}

func parseVar(raw []any) (Expr, error) {
	if len(raw) < 1 || len(raw) > 2 {
		return nil, fmt.Errorf("%w: var takes a name and an optional default", ErrInvalidRule)
	}
	name, ok := raw[0].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: var name must be a non-empty string", ErrInvalidRule)
	}
	v := varExpr{path: name}
	if len(raw) == 2 {
		fb, err := ParseValue(raw[1])
		if err != nil {
			return nil, err
		}
		v.fallback = fb
	}
	return v, nil
}

// Variables lists the variable names a rule reads, sorted.
func Variables(e Expr) []string {
	set := map[string]struct{}{}
	e.vars(set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Eval evaluates a rule against transaction data.
func Eval(e Expr, data map[string]any) (any, error) {
	v, err := e.eval(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalculation, err)
	}
	return v, nil
}

func (v varExpr) eval(env map[string]any) (any, error) {
	val, ok := lookup(env, v.path)
	if !ok {
		if v.fallback != nil {
			return v.fallback.eval(env)
		}
		return nil, fmt.Errorf("missing variable %q", v.path)
	}
	lit, err := literal(val)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %v", v.path, err)
	}
	return lit, nil
}

func (v varExpr) vars(into map[string]struct{}) {
	into[v.path] = struct{}{}
	if v.fallback != nil {
		v.fallback.vars(into)
	}
}

func (l litExpr) eval(map[string]any) (any, error) {
	return l.value, nil
}

func (litExpr) vars(map[string]struct{}) {}

func (o opExpr) vars(into map[string]struct{}) {
	for _, a := range o.args {
		a.vars(into)
	}
}

func (o opExpr) eval(env map[string]any) (any, error) {
	switch o.op {
	case "and":
		var last any
		for _, a := range o.args {
			v, err := a.eval(env)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return v, nil
			}
			last = v
		}
		return last, nil
	case "or":
		var last any
		for _, a := range o.args {
			v, err := a.eval(env)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return v, nil
			}
			last = v
		}
		return last, nil
	case "if":
		args := o.args
		for len(args) >= 2 {
			cond, err := args[0].eval(env)
			if err != nil {
				return nil, err
			}
			if truthy(cond) {
				return args[1].eval(env)
			}
			args = args[2:]
		}
		if len(args) == 1 {
			return args[0].eval(env)
		}
		return nil, nil
	}

	vals := make([]any, len(o.args))
	for i, a := range o.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	switch o.op {
	case "!":
		return !truthy(vals[0]), nil
	case "==":
		return equal(vals[0], vals[1]), nil
	case "!=":
		return !equal(vals[0], vals[1]), nil
	case "<", "<=", ">", ">=":
		return compareChain(o.op, vals)
	}

	nums := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := number(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", o.op, err)
		}
		nums[i] = d
	}

	switch o.op {
	case "+":
		sum := decimal.Zero
		for _, d := range nums {
			sum = sum.Add(d)
		}
		return sum, nil
	case "*":
		prod := decimal.NewFromInt(1)
		for _, d := range nums {
			prod = prod.Mul(d)
		}
		return prod, nil
	case "-":
		if len(nums) == 1 {
			return nums[0].Neg(), nil
		}
		return nums[0].Sub(nums[1]), nil
	case "/":
		if nums[1].IsZero() {
			return nil, fmt.Errorf("division by zero")
		}
		return nums[0].Div(nums[1]), nil
	case "min":
		return decimal.Min(nums[0], nums[1:]...), nil
	case "max":
		return decimal.Max(nums[0], nums[1:]...), nil
	}
	return nil, fmt.Errorf("operator %q not implemented", o.op)
}

func compareChain(op string, vals []any) (any, error) {
	nums := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := number(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		nums[i] = d
	}
	for i := 0; i+1 < len(nums); i++ {
		c := nums[i].Cmp(nums[i+1])
		var ok bool
		switch op {
		case "<":
			ok = c < 0
		case "<=":
			ok = c <= 0
		case ">":
			ok = c > 0
		case ">=":
			ok = c >= 0
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func lookup(env map[string]any, path string) (any, bool) {
	var cur any = env
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// literal normalises input values: numbers become decimals.
func literal(v any) (any, error) {
	switch n := v.(type) {
	case nil, bool, string:
		return n, nil
	case decimal.Decimal:
		return n, nil
	case json.Number, int, int32, int64:
		return money.FromAny(n)
	case float32, float64:
		return nil, money.ErrFloat
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

func number(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%q is not a number", n)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%v (%T) is not a number", v, v)
}

func truthy(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case bool:
		return n
	case string:
		return n != ""
	case decimal.Decimal:
		return !n.IsZero()
	}
	return true
}

func equal(a, b any) bool {
	da, errA := number(a)
	db, errB := number(b)
	if errA == nil && errB == nil {
		return da.Equal(db)
	}
	return a == b
}
