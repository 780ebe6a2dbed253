package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
)

func TestRegistryAdapter(t *testing.T) {
	r := NewRegistry()
	r.Register(model.BankManual, NewManual())

	if _, err := r.Adapter(model.BankManual); err != nil {
		t.Fatalf("Expected manual adapter, got %v", err)
	}
	if _, err := r.Adapter("wire"); !errors.Is(err, ErrUnknownBank) {
		t.Errorf("Expected ErrUnknownBank, got %v", err)
	}
	if got := r.Banks(); len(got) != 1 || got[0] != model.BankManual {
		t.Errorf("Expected [manual], got %v", got)
	}
}

func TestPaymentParamsRenames(t *testing.T) {
	r := NewRegistry()

	p, err := r.PaymentParams(model.BankMercury, map[string]any{
		"bank":              "mercury",
		"funding_account":   "acct-1",
		"funding_recipient": "rcp-9",
		"advance_amt":       "750.00",
		"transact_idx":      3,
	})
	if err != nil {
		t.Fatalf("PaymentParams failed: %v", err)
	}
	if len(p) != 3 {
		t.Errorf("Expected only the 3 mercury fields, got %v", p)
	}
	if p["account_id"] != "acct-1" || p["recipient_id"] != "rcp-9" || p["amount"] != "750.00" {
		t.Errorf("Unexpected params: %v", p)
	}
}

func TestPaymentParamsExactNameWins(t *testing.T) {
	r := NewRegistry()

	p, err := r.PaymentParams(model.BankManual, map[string]any{
		"tx_hash":           "0xabc",
		"amount":            "10.00",
		"residual_calc_amt": "99.00",
	})
	if err != nil {
		t.Fatalf("PaymentParams failed: %v", err)
	}
	if p["amount"] != "10.00" {
		t.Errorf("Expected exact amount to win, got %v", p["amount"])
	}
}

func TestInstructionKeepsRailFields(t *testing.T) {
	got := Instruction(map[string]any{
		"bank":            "mercury",
		"account_id":      "acct-1",
		"funding_account": "acct-2",
		"amount":          "99999.00",
		"advance_amt":     "5.00",
	})
	if len(got) != 2 || got["account_id"] != "acct-1" || got["funding_account"] != "acct-2" {
		t.Errorf("Expected only rail fields, got %v", got)
	}
	if IsInstructionField("amount") || !IsInstructionField("recipient_id") {
		t.Error("Expected amount to be rejected and recipient_id accepted")
	}
}

func TestPaymentParamsMissing(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		bank string
		src  map[string]any
		want error
	}{
		{model.BankMercury, map[string]any{"account_id": "a", "amount": "1.00"}, ErrMissingField},
		{model.BankManual, map[string]any{"tx_hash": "", "amount": "1.00"}, ErrMissingField},
		{model.BankToken, map[string]any{"amount": "1.00"}, ErrMissingField},
		{"wire", map[string]any{}, ErrUnknownBank},
	}

	for _, tt := range tests {
		if _, err := r.PaymentParams(tt.bank, tt.src); !errors.Is(err, tt.want) {
			t.Errorf("PaymentParams(%s): expected %v, got %v", tt.bank, tt.want, err)
		}
	}
}

func TestDepositParams(t *testing.T) {
	r := NewRegistry()

	p, err := r.DepositParams(model.BankToken, map[string]any{
		"start_date":            "2024-01-01",
		"end_date":              "2024-02-01",
		"deposit_token_network": "avalanche",
		"deposit_token_symbol":  "usdc",
		"parties":               []string{"0x0000000000000000000000000000000000000001"},
	})
	if err != nil {
		t.Fatalf("DepositParams failed: %v", err)
	}
	if p["network"] != "avalanche" || p["token_symbol"] != "usdc" {
		t.Errorf("Unexpected params: %v", p)
	}
}

func TestManual(t *testing.T) {
	m := NewManual()

	ref, err := m.MakePayment(context.Background(), Params{"tx_hash": "0xfeed", "amount": "5.00"})
	if err != nil {
		t.Fatalf("MakePayment failed: %v", err)
	}
	if ref != "0xfeed" {
		t.Errorf("Expected 0xfeed, got %s", ref)
	}

	if _, err := m.MakePayment(context.Background(), Params{"amount": "5.00"}); !errors.Is(err, ErrMissingField) {
		t.Errorf("Expected ErrMissingField, got %v", err)
	}

	deps, err := m.GetDeposits(context.Background(), Params{})
	if err != nil || len(deps) != 0 {
		t.Errorf("Expected no deposits, got %v, %v", deps, err)
	}
}
