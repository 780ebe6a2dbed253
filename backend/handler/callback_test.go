package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// saleWithSettlement creates sale contract 0 carrying one open settlement.
func (s *testServer) saleWithSettlement(t *testing.T) {
	t.Helper()
	body := contractBody()
	body["deposit_instr"] = map[string]any{"bank": "manual"}
	if code, env := s.do(t, http.MethodPost, "/api/contracts/sale", masterKey, body); code != http.StatusCreated {
		t.Fatalf("add contract: %d %+v", code, env)
	}
	if code, env := s.do(t, http.MethodPost, "/api/contracts/sale/0/parties", masterKey, []map[string]any{
		{"party_code": "fund", "party_type": "funder"},
		{"party_code": "sell", "party_type": "seller"},
		{"party_code": "cli", "party_type": "client"},
	}); code != http.StatusOK {
		t.Fatalf("add parties: %d %+v", code, env)
	}
	if code, env := s.do(t, http.MethodPost, "/api/contracts/sale/0/settlements", masterKey, map[string]any{
		"settle_due_dt":  "2024-05-15",
		"principal_amt":  "400.00",
		"settle_exp_amt": "500.00",
	}); code != http.StatusOK {
		t.Fatalf("add settlement: %d %+v", code, env)
	}
}

func (s *testServer) callback(t *testing.T, checksum, content string) int {
	t.Helper()
	body, _ := json.Marshal(CallbackRequest{Checksum: checksum, Content: content})
	req := httptest.NewRequest(http.MethodPost, "/api/callbacks/deposits", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w.Code
}

func TestCallbackHandlerHandleDeposit(t *testing.T) {
	s := newTestServer(t)
	s.saleWithSettlement(t)

	content := `{"contract_type":"sale","contract_idx":0,"settle_idx":0,"deposit_id":"dep-9","deposit_amt":"480.00","deposit_dt":"2024-05-14T16:00:00Z"}`

	tests := []struct {
		name           string
		checksum       string
		content        string
		expectedStatus int
	}{
		{"bad checksum", "00ff", content, http.StatusUnauthorized},
		{"checksum not hex", "zz", content, http.StatusUnauthorized},
		{"invalid content", Checksum(webhookSecret, "not json"), "not json", http.StatusBadRequest},
		{"unknown kind", Checksum(webhookSecret, `{"contract_type":"lease"}`), `{"contract_type":"lease"}`, http.StatusBadRequest},
		{"valid deposit", Checksum(webhookSecret, content), content, http.StatusOK},
		{"replayed deposit", Checksum(webhookSecret, content), content, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := s.callback(t, tt.checksum, tt.content); code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, code)
			}
		})
	}

	_, env := s.do(t, http.MethodGet, "/api/contracts/sale/0/settlements", masterKey, nil)
	settle := env.Data.([]any)[0].(map[string]any)
	if settle["settle_pay_amt"] != "480.00" || settle["settle_tx_hash"] != "dep-9" {
		t.Errorf("Unexpected settlement after callback: %v", settle)
	}
	if settle["settle_pay_dt"] != "2024-05-14T00:00:00Z" {
		t.Errorf("settle_pay_dt = %v, want midnight of the deposit day", settle["settle_pay_dt"])
	}
}

func TestCallbackHandlerDisabledWithoutSecret(t *testing.T) {
	h := NewCallbackHandler(nil, "")
	if h.verify(CallbackRequest{Checksum: Checksum("", "x"), Content: "x"}) {
		t.Error("Expected verification to fail without a secret")
	}
}
