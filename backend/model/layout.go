package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/shopspring/decimal"
)

// Tuple is one raw ledger record: strings, integers and booleans in layout
// order. Integers may arrive as json.Number after a round trip through JSON.
type Tuple []any

// Record is a decoded tuple keyed by field name.
type Record map[string]any

// Codec says how a field is stored on the ledger and shown to callers.
type Codec int

const (
	Text    Codec = iota
	Amount        // cents on the ledger
	Percent       // ten-thousandths on the ledger
	Time          // unix seconds, 0 when unset
	Int
	Bool
	Object // JSON object kept as a string
	Sealed // ciphertext of a JSON value
)

type Field struct {
	Name    string
	Codec   Codec
	Derived bool // computed on read, never on the ledger
}

// Decryptor opens Sealed fields. It never fails; see privacy.Decryptor.
type Decryptor interface {
	Decrypt(ciphertext string) any
}

// Encrypter seals plaintext for Sealed fields.
type Encrypter interface {
	Encrypt(plaintext any) (string, error)
}

type Layout struct {
	Name   string
	Fields []Field
	stored []Field
	index  map[string]int
	codecs map[string]Codec
}

func NewLayout(name string, fields ...Field) *Layout {
	l := &Layout{
		Name:   name,
		Fields: fields,
		index:  make(map[string]int),
		codecs: make(map[string]Codec),
	}
	for _, f := range fields {
		l.codecs[f.Name] = f.Codec
		if f.Derived {
			continue
		}
		l.index[f.Name] = len(l.stored)
		l.stored = append(l.stored, f)
	}
	return l
}

// Index returns the tuple position of a stored field, or -1.
func (l *Layout) Index(name string) int {
	if i, ok := l.index[name]; ok {
		return i
	}
	return -1
}

// Width is the number of stored fields.
func (l *Layout) Width() int {
	return len(l.stored)
}

// Decode maps a tuple to a record. With a nil Decryptor, Sealed fields keep
// their ciphertext.
func (l *Layout) Decode(t Tuple, dec Decryptor) (Record, error) {
	if len(t) != len(l.stored) {
		return nil, fmt.Errorf("%s tuple has %d fields, want %d", l.Name, len(t), len(l.stored))
	}
	r := make(Record, len(l.Fields))
	for i, f := range l.stored {
		v, err := decodeValue(f.Codec, t[i], dec)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", l.Name, f.Name, err)
		}
		r[f.Name] = v
	}
	return r, nil
}

// Encode maps a record to a tuple. Missing fields encode as zero values.
func (l *Layout) Encode(r Record, enc Encrypter) (Tuple, error) {
	t := make(Tuple, len(l.stored))
	for i, f := range l.stored {
		v, err := encodeValue(f.Codec, r[f.Name], enc)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", l.Name, f.Name, err)
		}
		t[i] = v
	}
	return t, nil
}

// Parse converts caller input into typed record values. Unknown keys are
// ignored and derived fields cannot be set.
func (l *Layout) Parse(in map[string]any) (Record, error) {
	r := make(Record)
	for _, f := range l.stored {
		raw, ok := in[f.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := parseValue(f.Codec, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		r[f.Name] = v
	}
	return r, nil
}

// View renders a record for callers: amounts with two places, percentages
// with four, times as RFC 3339 or null.
func (l *Layout) View(r Record) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		c, ok := l.codecs[k]
		if !ok {
			out[k] = v
			continue
		}
		out[k] = viewValue(c, v)
	}
	return out
}

func decodeValue(c Codec, v any, dec Decryptor) (any, error) {
	switch c {
	case Text:
		return asString(v)
	case Amount:
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		return money.FromMinor(n), nil
	case Percent:
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		return money.FromBasisPoints(n), nil
	case Time:
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return time.Time{}, nil
		}
		return time.Unix(n, 0).UTC(), nil
	case Int:
		return asInt(v)
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case Object:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		obj := map[string]any{}
		if s == "" {
			return obj, nil
		}
		d := json.NewDecoder(strings.NewReader(s))
		d.UseNumber()
		if err := d.Decode(&obj); err != nil {
			return nil, err
		}
		return obj, nil
	case Sealed:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		if dec == nil {
			return s, nil
		}
		return dec.Decrypt(s), nil
	}
	return nil, fmt.Errorf("unknown codec %d", c)
}

func encodeValue(c Codec, v any, enc Encrypter) (any, error) {
	switch c {
	case Text:
		if v == nil {
			return "", nil
		}
		return asString(v)
	case Amount:
		if v == nil {
			return int64(0), nil
		}
		d, err := money.FromAny(v)
		if err != nil {
			return nil, err
		}
		return money.ToMinor(d), nil
	case Percent:
		if v == nil {
			return int64(0), nil
		}
		d, err := money.FromAny(v)
		if err != nil {
			return nil, err
		}
		return money.ToBasisPoints(d), nil
	case Time:
		t, ok := v.(time.Time)
		if !ok || t.IsZero() {
			return int64(0), nil
		}
		return t.Unix(), nil
	case Int:
		if v == nil {
			return int64(0), nil
		}
		return asInt(v)
	case Bool:
		b, _ := v.(bool)
		return b, nil
	case Object:
		if v == nil {
			return "{}", nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case Sealed:
		if enc == nil {
			return nil, fmt.Errorf("no encrypter for sealed field")
		}
		if v == nil {
			v = map[string]any{}
		}
		return enc.Encrypt(v)
	}
	return nil, fmt.Errorf("unknown codec %d", c)
}

func parseValue(c Codec, v any) (any, error) {
	switch c {
	case Text:
		return asString(v)
	case Amount:
		d, err := money.FromAny(v)
		if err != nil {
			return nil, err
		}
		if !money.HasPlaces(d, money.AmountPlaces) {
			return nil, fmt.Errorf("amount %s has more than %d decimal places", d, money.AmountPlaces)
		}
		return d, nil
	case Percent:
		d, err := money.FromAny(v)
		if err != nil {
			return nil, err
		}
		if !money.HasPlaces(d, money.PercentPlaces) {
			return nil, fmt.Errorf("percentage %s has more than %d decimal places", d, money.PercentPlaces)
		}
		return d, nil
	case Time:
		return ParseTime(v)
	case Int:
		return asInt(v)
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case Object:
		switch o := v.(type) {
		case map[string]any:
			return o, nil
		case string:
			obj := map[string]any{}
			d := json.NewDecoder(strings.NewReader(o))
			d.UseNumber()
			if err := d.Decode(&obj); err != nil {
				return nil, fmt.Errorf("invalid JSON object: %w", err)
			}
			return obj, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	case Sealed:
		return v, nil
	}
	return nil, fmt.Errorf("unknown codec %d", c)
}

func viewValue(c Codec, v any) any {
	switch c {
	case Amount:
		if d, ok := v.(decimal.Decimal); ok {
			return money.Format(d)
		}
	case Percent:
		if d, ok := v.(decimal.Decimal); ok {
			return money.FormatPercent(d)
		}
	case Time:
		if t, ok := v.(time.Time); ok {
			if t.IsZero() {
				return nil
			}
			return t.UTC().Format(time.RFC3339)
		}
	}
	return v
}

// ParseTime accepts RFC 3339 timestamps, plain dates and time.Time.
func ParseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UTC(), nil
		}
		if ts, err := time.Parse("2006-01-02", t); err == nil {
			return ts.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid date %q", t)
	}
	return time.Time{}, fmt.Errorf("expected date string, got %T", v)
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

// IntValue reads an integer that may have been through a JSON round trip.
func IntValue(v any) (int64, error) {
	return asInt(v)
}

func asInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return json.Number(n).Int64()
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func (r Record) Text(name string) string {
	s, _ := r[name].(string)
	return s
}

func (r Record) Amount(name string) decimal.Decimal {
	d, _ := r[name].(decimal.Decimal)
	return d
}

func (r Record) Time(name string) time.Time {
	t, _ := r[name].(time.Time)
	return t
}

func (r Record) Int(name string) int64 {
	n, _ := asInt(r[name])
	return n
}

func (r Record) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

func (r Record) Object(name string) map[string]any {
	o, _ := r[name].(map[string]any)
	return o
}

// Str reads a string value out of an Object field.
func (r Record) Str(object, key string) string {
	s, _ := asString(r.Object(object)[key])
	return s
}
