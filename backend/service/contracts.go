package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/bank"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/retry"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/privacy"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/rules"
	"github.com/shopspring/decimal"
)

// ContractCount reads the number of contracts of kind, through the cache.
func (a *AppContext) ContractCount(ctx context.Context, kind model.Kind) (int, error) {
	tuples, err := a.Cache.GetOrLoad(ctx, cache.CountKey(kind), 0, func(ctx context.Context) ([]model.Tuple, error) {
		n, err := a.Ledger.ContractCount(ctx, kind)
		if err != nil {
			return nil, err
		}
		return []model.Tuple{{int64(n)}}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read contract count: %w", err)
	}
	if len(tuples) != 1 || len(tuples[0]) != 1 {
		return 0, newError(ClassInternal, nil, "malformed contract count entry")
	}
	n, err := model.IntValue(tuples[0][0])
	if err != nil {
		return 0, newError(ClassInternal, err, "malformed contract count entry")
	}
	return int(n), nil
}

// ValidateIndex waits for idx to become visible. A freshly added contract
// may not show up in the count straight away, so the count is re-read with
// a fixed delay between attempts.
func (a *AppContext) ValidateIndex(ctx context.Context, kind model.Kind, idx int) error {
	if idx < 0 {
		return validationf("contract index %d is negative", idx)
	}
	err := retry.Do(ctx, a.retry, func(ctx context.Context, attempt int) (bool, error) {
		if attempt > 1 {
			if err := a.Cache.Invalidate(ctx, cache.CountKey(kind)); err != nil {
				return false, err
			}
		}
		n, err := a.ContractCount(ctx, kind)
		if err != nil {
			return false, err
		}
		return idx < n, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return newError(ClassValidation, err, "%s contract %d does not exist", kind, idx)
	}
	return err
}

// AddContract validates and writes a new contract, returning its index.
func (a *AppContext) AddContract(ctx context.Context, kind model.Kind, input map[string]any) (int, error) {
	in := withDefaults(input, map[string]any{"is_active": true, "is_quote": false})
	in["contract_type"] = string(kind)
	if err := normalizeLogic(in); err != nil {
		return 0, err
	}

	r, err := model.ContractLayout.Parse(in)
	if err != nil {
		return 0, newError(ClassValidation, err, "invalid contract: %v", err)
	}
	if err := validateContract(kind, r); err != nil {
		return 0, err
	}

	t, err := model.ContractLayout.Encode(r, a.Privacy.Sealer(ctx))
	if err != nil {
		return 0, newError(ClassConfiguration, err, "failed to encrypt contract")
	}

	// The new index is the count before the write.
	idx, err := a.Ledger.ContractCount(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to read contract count: %w", err)
	}
	ctx = contractContext(ctx, kind, idx)
	keys := append(cache.AllKeys(kind, idx), cache.CountKey(kind))
	if err := a.write(ctx, ledger.AddContract(t), kind, idx, keys...); err != nil {
		return 0, err
	}
	return idx, nil
}

// UpdateContract merges input over the stored contract. Sealed fields not
// present in input keep their stored ciphertext.
func (a *AppContext) UpdateContract(ctx context.Context, kind model.Kind, idx int, input map[string]any) error {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}
	tuples, err := a.read(ctx, ledger.EntityContract, kind, idx)
	if err != nil {
		return err
	}
	dec, err := a.internalDecryptor(ctx)
	if err != nil {
		return err
	}
	current, err := model.ContractLayout.Decode(tuples[0], dec)
	if err != nil {
		return newError(ClassInternal, err, "failed to decode contract")
	}

	in := withDefaults(input, nil)
	delete(in, "contract_type")
	if err := normalizeLogic(in); err != nil {
		return err
	}
	changes, err := model.ContractLayout.Parse(in)
	if err != nil {
		return newError(ClassValidation, err, "invalid contract: %v", err)
	}
	merged := model.Record{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	if err := validateContract(kind, merged); err != nil {
		return err
	}

	t, err := model.ContractLayout.Encode(merged, a.Privacy.Sealer(ctx))
	if err != nil {
		return newError(ClassConfiguration, err, "failed to encrypt contract")
	}
	for _, f := range model.ContractLayout.Fields {
		if f.Codec != model.Sealed {
			continue
		}
		if _, changed := changes[f.Name]; !changed {
			i := model.ContractLayout.Index(f.Name)
			t[i] = tuples[0][i]
		}
	}
	return a.write(ctx, ledger.UpdateContract(t), kind, idx, cache.ContractKey(kind, idx))
}

// DeleteContract tombstones the contract and drops every cached list.
func (a *AppContext) DeleteContract(ctx context.Context, kind model.Kind, idx int) error {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}
	keys := append(cache.AllKeys(kind, idx), cache.CountKey(kind))
	return a.write(ctx, ledger.DeleteContract(), kind, idx, keys...)
}

// GetContract returns the contract as credential may see it.
func (a *AppContext) GetContract(ctx context.Context, kind model.Kind, idx int, credential string) (map[string]any, error) {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return nil, err
	}
	dec, err := a.decryptorFor(ctx, kind, idx, credential)
	if err != nil {
		return nil, err
	}
	recs, err := a.records(ctx, ledger.EntityContract, kind, idx, model.ContractLayout, dec)
	if err != nil {
		return nil, err
	}
	view := model.ContractLayout.View(recs[0])
	view["contract_idx"] = idx
	return view, nil
}

// ListContracts returns every live contract of kind. Deleted ones are
// skipped.
func (a *AppContext) ListContracts(ctx context.Context, kind model.Kind, credential string) ([]map[string]any, error) {
	n, err := a.ContractCount(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for idx := 0; idx < n; idx++ {
		c, err := a.GetContract(ctx, kind, idx, credential)
		if ClassOf(err) == ClassNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// TransactionVariables lists the inputs the contract's logic reads.
func (a *AppContext) TransactionVariables(ctx context.Context, kind model.Kind, idx int) ([]string, error) {
	c, err := a.contract(ctx, kind, idx)
	if err != nil {
		return nil, err
	}
	rule, err := contractRule(c)
	if err != nil {
		return nil, err
	}
	return rules.Variables(rule), nil
}

// contract reads the contract with the engine's own key.
func (a *AppContext) contract(ctx context.Context, kind model.Kind, idx int) (model.Record, error) {
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return nil, err
	}
	dec, err := a.internalDecryptor(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := a.records(ctx, ledger.EntityContract, kind, idx, model.ContractLayout, dec)
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func contractRule(c model.Record) (rules.Expr, error) {
	logic := c["transact_logic"]
	if s, ok := logic.(string); ok && s == privacy.Sentinel {
		return nil, newError(ClassConfiguration, nil, "transaction logic could not be decrypted")
	}
	rule, err := rules.ParseValue(logic)
	if err != nil {
		return nil, newError(ClassCalculation, err, "invalid transaction logic: %v", err)
	}
	return rule, nil
}

var one = decimal.NewFromInt(1)

func validateContract(kind model.Kind, r model.Record) error {
	for _, f := range []string{"contract_name", "notes"} {
		if strings.TrimSpace(r.Text(f)) == "" {
			return validationf("%s must be a non-empty string", f)
		}
	}

	for _, f := range []string{"service_fee_pct", "service_fee_max", "advance_pct", "late_fee_pct"} {
		p := r.Amount(f)
		if p.IsNegative() || p.GreaterThan(one) {
			return validationf("%s must be between 0.0000 and 1.0000, got %s", f, p)
		}
	}
	if r.Amount("service_fee_max").LessThan(r.Amount("service_fee_pct")) {
		return validationf("service_fee_max must be greater than or equal to service_fee_pct")
	}
	if r.Amount("service_fee_amt").IsNegative() || r.Amount("max_threshold_amt").IsNegative() {
		return validationf("service_fee_amt and max_threshold_amt must not be negative")
	}
	if r.Amount("min_threshold_amt").GreaterThan(r.Amount("max_threshold_amt")) {
		return validationf("min_threshold_amt must be less than or equal to max_threshold_amt")
	}

	for _, instr := range []string{"funding_instr", "deposit_instr"} {
		obj := r.Object(instr)
		if instr == "deposit_instr" && len(obj) == 0 && !kind.HasDeposits() {
			continue
		}
		if !validBank(r.Str(instr, "bank")) {
			return validationf("%s.bank must be one of %s, got %q", instr, strings.Join(model.Banks, ", "), r.Str(instr, "bank"))
		}
		for k := range obj {
			if !bank.IsInstructionField(k) {
				return validationf("%s.%s is not a recognised instruction field", instr, k)
			}
		}
	}

	if _, ok := r["transact_logic"].(map[string]any); !ok {
		return validationf("transact_logic must be a JSON-logic object")
	}
	if _, err := rules.ParseValue(r["transact_logic"]); err != nil {
		return newError(ClassValidation, err, "invalid transact_logic: %v", err)
	}
	return nil
}

// normalizeLogic accepts transact_logic as JSON text as well as an object.
func normalizeLogic(in map[string]any) error {
	s, ok := in["transact_logic"].(string)
	if !ok {
		return nil
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return validationf("transact_logic is not valid JSON: %v", err)
	}
	in["transact_logic"] = v
	return nil
}

func validBank(b string) bool {
	for _, known := range model.Banks {
		if b == known {
			return true
		}
	}
	return false
}

func withDefaults(in map[string]any, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(in)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ResetCredentials makes the next request reload API keys and key material.
func (a *AppContext) ResetCredentials(ctx context.Context) {
	a.Privacy.ResetCredentials()
	logger.Info(ctx, "credential cache reset")
}
