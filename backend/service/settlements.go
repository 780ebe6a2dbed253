package service

import (
	"context"
	"sort"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/shopspring/decimal"
)

// AddSettlements validates every period before writing any. Returns the
// number written.
func (a *AppContext) AddSettlements(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error) {
	ctx = contractContext(ctx, kind, idx)
	l := model.SettlementLayout(kind)
	if l == nil {
		return 0, validationf("%s contracts have no settlements", kind)
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return 0, err
	}

	sealer := a.Privacy.Sealer(ctx)
	tuples := make([]model.Tuple, 0, len(items))
	for i, item := range items {
		r, err := l.Parse(item)
		if err != nil {
			return 0, newError(ClassValidation, err, "settlement %d: %v", i, err)
		}
		if err := validateSettlement(kind, r); err != nil {
			return 0, newError(ClassValidation, err, "settlement %d: %v", i, err)
		}
		// Payment fields are set by later writes only.
		for _, f := range []string{"settle_pay_dt", "settle_pay_amt", "settle_tx_hash", "dispute_reason", "residual_pay_dt", "residual_pay_amt", "residual_tx_hash", "dist_pay_dt", "dist_pay_amt", "dist_tx_hash"} {
			delete(r, f)
		}
		t, err := l.Encode(r, sealer)
		if err != nil {
			return 0, newError(ClassConfiguration, err, "failed to encrypt settlement")
		}
		tuples = append(tuples, t)
	}

	count := 0
	for _, t := range tuples {
		if err := a.write(ctx, ledger.AddSettlement(t), kind, idx, cache.SettlementKey(kind, idx)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func validateSettlement(kind model.Kind, r model.Record) error {
	due := r.Time("settle_due_dt")
	if due.IsZero() {
		return validationf("settle_due_dt is required")
	}
	if kind == model.KindSale {
		if !r.Amount("settle_exp_amt").IsPositive() {
			return validationf("settle_exp_amt must be positive")
		}
		if r.Amount("principal_amt").IsNegative() {
			return validationf("principal_amt must not be negative")
		}
		return nil
	}

	lo, hi := r.Time("transact_min_dt"), r.Time("transact_max_dt")
	if lo.IsZero() || hi.IsZero() {
		return validationf("transact_min_dt and transact_max_dt are required")
	}
	if lo.After(hi) {
		return validationf("transact_min_dt (%s) must be on or before transact_max_dt (%s)", lo.Format(time.RFC3339), hi.Format(time.RFC3339))
	}
	if hi.After(due) {
		return validationf("transact_max_dt (%s) must be on or before settle_due_dt (%s)", hi.Format(time.RFC3339), due.Format(time.RFC3339))
	}
	return nil
}

// GetSettlements lists settlements by due date with their derived amounts.
func (a *AppContext) GetSettlements(ctx context.Context, kind model.Kind, idx int, credential string) ([]map[string]any, error) {
	ctx = contractContext(ctx, kind, idx)
	l := model.SettlementLayout(kind)
	if l == nil {
		return nil, validationf("%s contracts have no settlements", kind)
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return nil, err
	}
	dec, err := a.decryptorFor(ctx, kind, idx, credential)
	if err != nil {
		return nil, err
	}
	settles, err := a.derivedSettlements(ctx, kind, idx, dec)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(settles))
	for _, s := range settles {
		v := l.View(s.rec)
		v["contract_type"] = string(kind)
		v["contract_idx"] = idx
		v["settle_idx"] = s.idx
		out = append(out, v)
	}
	return out, nil
}

func (a *AppContext) DeleteSettlements(ctx context.Context, kind model.Kind, idx int) error {
	ctx = contractContext(ctx, kind, idx)
	if model.SettlementLayout(kind) == nil {
		return validationf("%s contracts have no settlements", kind)
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}
	return a.write(ctx, ledger.DeleteSettlements(), kind, idx, cache.SettlementKey(kind, idx))
}

type indexedRecord struct {
	idx int
	rec model.Record
}

// derivedSettlements reads settlements, transactions and contract terms
// and fills in the derived fields. Sorted by due date.
func (a *AppContext) derivedSettlements(ctx context.Context, kind model.Kind, idx int, dec model.Decryptor) ([]indexedRecord, error) {
	l := model.SettlementLayout(kind)
	contract, err := a.records(ctx, ledger.EntityContract, kind, idx, model.ContractLayout, nil)
	if err != nil {
		return nil, err
	}
	settles, err := a.records(ctx, ledger.EntitySettlement, kind, idx, l, dec)
	if err != nil {
		return nil, err
	}
	var txns []model.Record
	if kind == model.KindAdvance {
		txns, err = a.records(ctx, ledger.EntityTransaction, kind, idx, model.TransactionLayout, nil)
		if err != nil {
			return nil, err
		}
	}

	out := make([]indexedRecord, len(settles))
	for i, s := range settles {
		deriveSettlement(kind, contract[0], s, txns)
		out[i] = indexedRecord{idx: i, rec: s}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].rec.Time("settle_due_dt").Before(out[j].rec.Time("settle_due_dt"))
	})
	return out, nil
}

// deriveSettlement fills the computed fields of s in place.
//
// Advance settlements aggregate transactions dated in [transact_min_dt,
// transact_max_dt). Payment dependent amounts stay zero until a deposit is
// posted against the settlement.
func deriveSettlement(kind model.Kind, contract, s model.Record, txns []model.Record) {
	if kind == model.KindAdvance {
		lo, hi := s.Time("transact_min_dt"), s.Time("transact_max_dt")
		count := int64(0)
		expected, advance, gross := decimal.Zero, decimal.Zero, decimal.Zero
		for _, t := range txns {
			dt := t.Time("transact_dt")
			if dt.Before(lo) || !dt.Before(hi) {
				continue
			}
			count++
			expected = expected.Add(t.Amount("transact_amt"))
			advance = advance.Add(t.Amount("advance_amt"))
			gross = gross.Add(t.Amount("advance_amt")).Add(t.Amount("service_fee_amt"))
		}
		s["transact_count"] = count
		s["settle_exp_amt"] = expected
		s["advance_amt"] = advance
		s["advance_amt_gross"] = gross
		s["residual_exp_amt"] = expected.Sub(gross)
	}

	expected := s.Amount("settle_exp_amt")
	paid := s.Amount("settle_pay_amt")
	posted := paid.IsPositive()

	days := int64(0)
	lateFee := decimal.Zero
	dispute := decimal.Zero
	if posted {
		days = daysLate(s.Time("settle_due_dt"), s.Time("settle_pay_dt"))
		if days > 0 {
			lateFee = money.Floor2(expected.Mul(contract.Amount("late_fee_pct")))
		}
		dispute = money.Max(decimal.Zero, expected.Sub(paid))
	}
	s["days_late"] = days
	s["late_fee_amt"] = lateFee
	s["dispute_amt"] = dispute

	switch kind {
	case model.KindAdvance:
		residual := decimal.Zero
		if posted {
			residual = money.Max(decimal.Zero, paid.Sub(s.Amount("advance_amt_gross")).Sub(lateFee))
		}
		s["residual_calc_amt"] = residual
	case model.KindSale:
		dist := decimal.Zero
		if posted {
			fee := money.Floor2(contract.Amount("service_fee_pct").Mul(paid).Add(contract.Amount("service_fee_amt")))
			dist = money.Max(decimal.Zero, paid.Sub(fee).Sub(lateFee))
		}
		s["dist_calc_amt"] = dist
	}
}

// daysLate counts whole days from due to paid, never negative.
func daysLate(due, paid time.Time) int64 {
	if due.IsZero() || paid.IsZero() || !paid.After(due) {
		return 0
	}
	return int64(paid.Sub(due) / (24 * time.Hour))
}
