package service

import (
	"context"
	"sort"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/rules"
)

// DateRange bounds a listing. Zero ends are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// AddTransactions computes amounts and fees for every item before writing
// any of them, so a bad item leaves the ledger untouched. It returns the
// number written.
func (a *AppContext) AddTransactions(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error) {
	ctx = contractContext(ctx, kind, idx)
	c, err := a.contract(ctx, kind, idx)
	if err != nil {
		return 0, err
	}
	rule, err := contractRule(c)
	if err != nil {
		return 0, err
	}

	sealer := a.Privacy.Sealer(ctx)
	tuples := make([]model.Tuple, 0, len(items))
	for i, item := range items {
		data, ok := item["transact_data"].(map[string]any)
		if !ok {
			return 0, validationf("transaction %d: transact_data must be an object", i)
		}
		ext, ok := item["extended_data"].(map[string]any)
		if !ok {
			ext = map[string]any{}
		}
		raw, ok := item["transact_dt"]
		if !ok {
			return 0, validationf("transaction %d: transact_dt is required", i)
		}
		dt, err := model.ParseTime(raw)
		if err != nil {
			return 0, validationf("transaction %d: %v", i, err)
		}

		cents, err := rules.TransactAmount(rule, data)
		if err != nil {
			return 0, newError(ClassCalculation, err, "transaction %d: %v", i, err)
		}
		amount := money.FromMinor(cents)
		fees := rules.DeriveFees(amount, c.Amount("service_fee_pct"), c.Amount("service_fee_amt"), c.Amount("advance_pct"))

		t, err := model.TransactionLayout.Encode(model.Record{
			"extended_data":   ext,
			"transact_dt":     dt,
			"transact_amt":    amount,
			"service_fee_amt": fees.ServiceFee,
			"advance_amt":     fees.Advance,
			"transact_data":   data,
		}, sealer)
		if err != nil {
			return 0, newError(ClassConfiguration, err, "failed to encrypt transaction")
		}
		tuples = append(tuples, t)
	}

	// Settlement amounts derive from transactions, so both lists go stale.
	keys := []cache.Key{cache.TransactionKey(kind, idx), cache.SettlementKey(kind, idx)}
	count := 0
	for _, t := range tuples {
		if err := a.write(ctx, ledger.AddTransaction(t), kind, idx, keys...); err != nil {
			if count > 0 {
				logger.Warn(ctx, "transaction batch partially written", "written", count, "total", len(tuples))
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// GetTransactions lists transactions newest first, optionally limited to a
// date range.
func (a *AppContext) GetTransactions(ctx context.Context, kind model.Kind, idx int, credential string, within DateRange) ([]map[string]any, error) {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return nil, err
	}
	dec, err := a.decryptorFor(ctx, kind, idx, credential)
	if err != nil {
		return nil, err
	}
	recs, err := a.records(ctx, ledger.EntityTransaction, kind, idx, model.TransactionLayout, dec)
	if err != nil {
		return nil, err
	}

	type row struct {
		idx int
		rec model.Record
	}
	rows := make([]row, 0, len(recs))
	for i, r := range recs {
		if within.Contains(r.Time("transact_dt")) {
			rows = append(rows, row{i, r})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := rows[i].rec.Time("transact_dt"), rows[j].rec.Time("transact_dt")
		if ti.Equal(tj) {
			return rows[i].idx > rows[j].idx
		}
		return ti.After(tj)
	})

	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		v := model.TransactionLayout.View(r.rec)
		v["contract_type"] = string(kind)
		v["contract_idx"] = idx
		v["transact_idx"] = r.idx
		out = append(out, v)
	}
	return out, nil
}

func (a *AppContext) DeleteTransactions(ctx context.Context, kind model.Kind, idx int) error {
	ctx = contractContext(ctx, kind, idx)
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}
	return a.write(ctx, ledger.DeleteTransactions(), kind, idx, cache.TransactionKey(kind, idx), cache.SettlementKey(kind, idx))
}
