package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type upperEncrypter struct{}

func (upperEncrypter) Encrypt(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return "sealed:" + string(b), nil
}

type openDecryptor struct{}

func (openDecryptor) Decrypt(ct string) any {
	return strings.TrimPrefix(ct, "sealed:")
}

func TestLayoutEncodeDecode(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := Record{
		"extended_data":   map[string]any{"ref": "A-1"},
		"transact_dt":     due,
		"transact_amt":    decimal.RequireFromString("1000.00"),
		"advance_amt":     decimal.RequireFromString("750.00"),
		"transact_data":   map[string]any{"qty": 10},
		"advance_tx_hash": "",
	}

	tuple, err := TransactionLayout.Encode(in, upperEncrypter{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(tuple) != TransactionLayout.Width() {
		t.Fatalf("Expected width %d, got %d", TransactionLayout.Width(), len(tuple))
	}
	if tuple[TransactionLayout.Index("transact_amt")] != int64(100000) {
		t.Errorf("Expected cents on the ledger, got %v", tuple[TransactionLayout.Index("transact_amt")])
	}
	if tuple[TransactionLayout.Index("transact_dt")] != due.Unix() {
		t.Errorf("Expected unix seconds, got %v", tuple[TransactionLayout.Index("transact_dt")])
	}

	raw, err := TransactionLayout.Decode(tuple, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !strings.HasPrefix(raw.Text("extended_data"), "sealed:") {
		t.Errorf("Expected ciphertext without a decryptor, got %v", raw["extended_data"])
	}

	rec, err := TransactionLayout.Decode(tuple, openDecryptor{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec["extended_data"] != `{"ref":"A-1"}` {
		t.Errorf("Unexpected decrypted value %v", rec["extended_data"])
	}
	if !rec.Amount("transact_amt").Equal(decimal.RequireFromString("1000")) {
		t.Errorf("Unexpected amount %s", rec.Amount("transact_amt"))
	}
	if !rec.Time("transact_dt").Equal(due) {
		t.Errorf("Unexpected date %s", rec.Time("transact_dt"))
	}
	if !rec.Time("advance_pay_dt").IsZero() {
		t.Error("Expected unset pay date")
	}
}

func TestDecodeAcceptsJSONNumbers(t *testing.T) {
	tuple := Tuple{"ACME", "0xabc", "funder", json.Number("0"), ""}
	rec, err := PartyLayout.Decode(tuple, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.Text("party_code") != "ACME" {
		t.Errorf("Unexpected party code %s", rec.Text("party_code"))
	}
}

func TestDecodeRejectsWrongWidth(t *testing.T) {
	if _, err := PartyLayout.Decode(Tuple{"ACME"}, nil); err == nil {
		t.Error("Expected width error")
	}
}

func TestDecodeRejectsFloats(t *testing.T) {
	tuple := Tuple{"doc", "pdf", "key", float64(1)}
	if _, err := ArtifactLayout.Decode(tuple, nil); err == nil {
		t.Error("Expected float timestamps to be rejected")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"service_fee_pct": "0.0500", "service_fee_amt": json.Number("2.50"), "funding_instr": map[string]any{"bank": "manual"}}, false},
		{"percent too precise", map[string]any{"service_fee_pct": "0.05001"}, true},
		{"amount too precise", map[string]any{"service_fee_amt": "2.505"}, true},
		{"float amount", map[string]any{"service_fee_amt": 2.5}, true},
		{"object from string", map[string]any{"deposit_instr": `{"bank":"mercury"}`}, false},
		{"bad object", map[string]any{"deposit_instr": 7}, true},
		{"bool mismatch", map[string]any{"is_active": "yes"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ContractLayout.Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	for _, in := range []string{"2024-03-01", "2024-03-01T00:00:00Z"} {
		ts, err := ParseTime(in)
		if err != nil {
			t.Fatalf("ParseTime(%s) failed: %v", in, err)
		}
		if ts.Day() != 1 || ts.Month() != time.March {
			t.Errorf("Unexpected time %s", ts)
		}
	}
	if _, err := ParseTime("March 1st"); err == nil {
		t.Error("Expected error for free-form date")
	}
}

func TestView(t *testing.T) {
	rec := Record{
		"settle_exp_amt": decimal.RequireFromString("399.99"),
		"late_fee_amt":   decimal.Zero,
		"settle_pay_dt":  time.Time{},
		"settle_due_dt":  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"settle_idx":     2,
	}
	v := AdvanceSettlementLayout.View(rec)

	if v["settle_exp_amt"] != "399.99" {
		t.Errorf("Expected 399.99, got %v", v["settle_exp_amt"])
	}
	if v["late_fee_amt"] != "0.00" {
		t.Errorf("Expected 0.00, got %v", v["late_fee_amt"])
	}
	if v["settle_pay_dt"] != nil {
		t.Errorf("Expected null pay date, got %v", v["settle_pay_dt"])
	}
	if v["settle_due_dt"] != "2024-03-01T00:00:00Z" {
		t.Errorf("Unexpected due date %v", v["settle_due_dt"])
	}
	if v["settle_idx"] != 2 {
		t.Errorf("Expected passthrough of extra keys, got %v", v["settle_idx"])
	}
}
