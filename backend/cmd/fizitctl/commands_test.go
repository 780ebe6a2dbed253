package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/bank"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/privacy"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
)

const masterKey = "master-key"

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "ledger:\n  mode: memory\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// seededEngine returns a factory serving one purchase contract with a
// single 1000.00 transaction paid over the manual rail.
func seededEngine(t *testing.T) engineFactory {
	t.Helper()
	cfg := &config.Config{
		Ledger: config.LedgerConfig{Mode: "memory", WalletAddr: "0x00000000000000000000000000000000000000aa", PaymentWriteTimeout: 5},
		Crypto: config.CryptoConfig{KeyID: "k1", PrimaryKey: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{3}, 32))},
		Credentials: config.CredentialsConfig{MasterKey: masterKey},
		Validation:  config.ValidationConfig{Attempts: 2, DelayMillis: 1},
		PartyAddrs: []config.KeyValue{
			{Key: "fund", Value: "0x1111111111111111111111111111111111111111"},
			{Key: "sell", Value: "0x2222222222222222222222222222222222222222"},
		},
	}
	mem := ledger.NewMemory(0)
	banks := bank.NewRegistry()
	banks.Register(model.BankManual, bank.NewManual())
	app := service.New(service.Deps{
		Config:  cfg,
		Ledger:  mem,
		Tokens:  mem,
		Privacy: privacy.NewGateway(privacy.NewRegistry(privacy.StaticSource{Crypto: cfg.Crypto, Credentials: cfg.Credentials}, time.Hour)),
		Banks:   banks,
	})

	ctx := context.Background()
	idx, err := app.AddContract(ctx, model.KindPurchase, map[string]any{
		"contract_name":     "Acme receivables",
		"notes":             "net 30",
		"funding_instr":     map[string]any{"bank": "manual"},
		"service_fee_pct":   "0.0500",
		"service_fee_max":   "0.0500",
		"service_fee_amt":   "0.00",
		"advance_pct":       "0.8000",
		"late_fee_pct":      "0.0100",
		"min_threshold_amt": "0.00",
		"max_threshold_amt": "100000.00",
		"transact_logic":    map[string]any{"var": "amt"},
	})
	if err != nil {
		t.Fatalf("AddContract failed: %v", err)
	}
	if _, err := app.AddParties(ctx, model.KindPurchase, idx, []map[string]any{
		{"party_code": "fund", "party_type": "funder"},
		{"party_code": "sell", "party_type": "seller"},
	}); err != nil {
		t.Fatalf("AddParties failed: %v", err)
	}
	if _, err := app.AddTransactions(ctx, model.KindPurchase, idx, []map[string]any{
		{"transact_dt": "2024-05-01", "transact_data": map[string]any{"amt": "1000.00"}},
	}); err != nil {
		t.Fatalf("AddTransactions failed: %v", err)
	}

	return func(context.Context, *config.Config) (*service.AppContext, error) {
		return app, nil
	}
}

func run(t *testing.T, factory engineFactory, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(factory)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", writeConfig(t)}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPendingAndSettle(t *testing.T) {
	factory := seededEngine(t)

	out, err := run(t, factory, "pending", "advance", "purchase", "0")
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("Failed to parse output %q: %v", out, err)
	}
	if len(items) != 1 || items[0]["advance_amt"] != "750.00" {
		t.Fatalf("Unexpected pending advances: %v", items)
	}

	out, err = run(t, factory, "settle", "advance", "purchase", "0", "-i", "0", "--tx-hash", "0xabc")
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !strings.Contains(out, "paid 1 of 1") {
		t.Errorf("Unexpected settle output: %q", out)
	}

	out, err = run(t, factory, "pending", "advance", "purchase", "0")
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("Expected nothing pending after settle, got %q", out)
	}
}

func TestSettleErrors(t *testing.T) {
	factory := seededEngine(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no index", []string{"settle", "advance", "purchase", "0"}, "--index"},
		{"unknown obligation", []string{"settle", "bonus", "purchase", "0", "-i", "0"}, "obligation must be"},
		{"bad contract index", []string{"settle", "advance", "purchase", "x", "-i", "0"}, "non-negative integer"},
		{"manual rail needs a reference", []string{"settle", "advance", "purchase", "0", "-i", "0"}, "configuration"},
		{"no residuals on purchase", []string{"settle", "residual", "purchase", "0", "-i", "0"}, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, factory, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAndCheck(t *testing.T) {
	factory := seededEngine(t)

	out, err := run(t, factory, "validate", "purchase", "0")
	if err != nil || !strings.Contains(out, "is visible") {
		t.Errorf("validate: %q %v", out, err)
	}

	if _, err := run(t, factory, "validate", "purchase", "3"); err == nil {
		t.Error("Expected validate to fail for a missing contract")
	}

	out, err = run(t, factory, "check")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "purchase: 1 contracts") {
		t.Errorf("Unexpected check output: %q", out)
	}
}

func TestSettlementsRejectsPurchase(t *testing.T) {
	factory := seededEngine(t)

	if _, err := run(t, factory, "settlements", "purchase", "0"); err == nil {
		t.Error("Expected purchase contracts to have no settlements")
	}
}
