package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/bank"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/shopspring/decimal"
)

// obligation describes one payable kind: where it lives, how its amount and
// paid marker are named, and who receives it.
type obligation struct {
	name       string
	entity     ledger.Entity
	idxField   string
	amtField   string
	paidField  string
	outField   string
	method     string
	recipient  string
	applicable func(model.Kind) bool
}

var (
	advanceObligation = obligation{
		name:       "advance",
		entity:     ledger.EntityTransaction,
		idxField:   "transact_idx",
		amtField:   "advance_amt",
		paidField:  "advance_pay_amt",
		outField:   "advance_amt",
		method:     ledger.MethodPayAdvance,
		recipient:  model.PartySeller,
		applicable: model.Kind.HasAdvances,
	}
	residualObligation = obligation{
		name:       "residual",
		entity:     ledger.EntitySettlement,
		idxField:   "settle_idx",
		amtField:   "residual_calc_amt",
		paidField:  "residual_pay_amt",
		outField:   "residual_calc_amt",
		method:     ledger.MethodPayResidual,
		recipient:  model.PartySeller,
		applicable: model.Kind.HasResiduals,
	}
	distributionObligation = obligation{
		name:       "distribution",
		entity:     ledger.EntitySettlement,
		idxField:   "settle_idx",
		amtField:   "dist_calc_amt",
		paidField:  "dist_pay_amt",
		outField:   "distribution_calc_amt",
		method:     ledger.MethodPayDistribution,
		recipient:  model.PartyClient,
		applicable: model.Kind.HasDistributions,
	}
)

// keys are the cache entries a payment write makes stale.
func (o obligation) keys(kind model.Kind, idx int) []cache.Key {
	if o.entity == ledger.EntityTransaction {
		return []cache.Key{cache.TransactionKey(kind, idx), cache.SettlementKey(kind, idx)}
	}
	return []cache.Key{cache.SettlementKey(kind, idx)}
}

func (a *AppContext) GetAdvances(ctx context.Context, kind model.Kind, idx int) ([]map[string]any, error) {
	return a.pending(ctx, advanceObligation, kind, idx)
}

func (a *AppContext) GetResiduals(ctx context.Context, kind model.Kind, idx int) ([]map[string]any, error) {
	return a.pending(ctx, residualObligation, kind, idx)
}

func (a *AppContext) GetDistributions(ctx context.Context, kind model.Kind, idx int) ([]map[string]any, error) {
	return a.pending(ctx, distributionObligation, kind, idx)
}

// SettleAdvances pays each listed advance and records it on the ledger.
// It returns the number of obligations paid by this call.
func (a *AppContext) SettleAdvances(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error) {
	return a.settle(ctx, advanceObligation, kind, idx, items)
}

func (a *AppContext) SettleResiduals(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error) {
	return a.settle(ctx, residualObligation, kind, idx, items)
}

func (a *AppContext) SettleDistributions(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error) {
	return a.settle(ctx, distributionObligation, kind, idx, items)
}

// obligationRows reads the rows an obligation lives on with their current
// amounts, keyed by obligation index.
func (a *AppContext) obligationRows(ctx context.Context, o obligation, kind model.Kind, idx int) (map[int]model.Record, error) {
	rows := make(map[int]model.Record)
	if o.entity == ledger.EntityTransaction {
		recs, err := a.records(ctx, ledger.EntityTransaction, kind, idx, model.TransactionLayout, nil)
		if err != nil {
			return nil, err
		}
		for i, r := range recs {
			rows[i] = r
		}
		return rows, nil
	}
	settles, err := a.derivedSettlements(ctx, kind, idx, nil)
	if err != nil {
		return nil, err
	}
	for _, s := range settles {
		rows[s.idx] = s.rec
	}
	return rows, nil
}

func (a *AppContext) pending(ctx context.Context, o obligation, kind model.Kind, idx int) ([]map[string]any, error) {
	ctx = contractContext(ctx, kind, idx)
	if !o.applicable(kind) {
		return nil, validationf("%s contracts have no %ss", kind, o.name)
	}
	c, err := a.contract(ctx, kind, idx)
	if err != nil {
		return nil, err
	}
	rows, err := a.obligationRows(ctx, o, kind, idx)
	if err != nil {
		return nil, err
	}
	funder, recipient, err := a.partyAddrs(ctx, kind, idx, o)
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for i := 0; i < len(rows); i++ {
		r, ok := rows[i]
		if !ok || !isPending(o, r) {
			continue
		}
		if _, marked := a.marks.get(obligationKey{kind: kind, idx: idx, what: o.name, index: i}); marked {
			continue
		}
		item := map[string]any{
			"contract_type":  string(kind),
			"contract_idx":   idx,
			"contract_name":  c.Text("contract_name"),
			o.idxField:       i,
			"bank":           c.Str("funding_instr", "bank"),
			"funder_addr":    funder,
			"recipient_addr": recipient,
			o.outField:       money.Format(r.Amount(o.amtField)),
		}
		if o.entity == ledger.EntitySettlement {
			item["settle_due_dt"] = model.SettlementLayout(kind).View(r)["settle_due_dt"]
		}
		for _, f := range []string{"account_id", "recipient_id", "token_symbol", "network"} {
			if v, ok := c.Object("funding_instr")[f]; ok {
				item[f] = v
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func isPending(o obligation, r model.Record) bool {
	return r.Amount(o.amtField).IsPositive() && r.Amount(o.paidField).IsZero()
}

func (a *AppContext) partyAddrs(ctx context.Context, kind model.Kind, idx int, o obligation) (funder, recipient string, err error) {
	funders, err := a.partiesByType(ctx, kind, idx, model.PartyFunder)
	if err != nil {
		return "", "", err
	}
	recipients, err := a.partiesByType(ctx, kind, idx, o.recipient)
	if err != nil {
		return "", "", err
	}
	if len(funders) > 0 {
		funder = funders[0].Text("party_addr")
	}
	if len(recipients) > 0 {
		recipient = recipients[0].Text("party_addr")
	}
	return funder, recipient, nil
}

func (a *AppContext) settle(ctx context.Context, o obligation, kind model.Kind, idx int, items []map[string]any) (int, error) {
	ctx = contractContext(ctx, kind, idx)
	if !o.applicable(kind) {
		return 0, validationf("%s contracts have no %ss", kind, o.name)
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return 0, err
	}
	c, err := a.contract(ctx, kind, idx)
	if err != nil {
		return 0, err
	}
	bankName := c.Str("funding_instr", "bank")
	adapter, err := a.Banks.Adapter(bankName)
	if err != nil {
		return 0, newError(ClassConfiguration, err, "contract funding bank %q is not available", bankName)
	}

	count := 0
	for i, item := range items {
		n, err := model.IntValue(item[o.idxField])
		if err != nil {
			return count, validationf("%s %d: %s is required", o.name, i, o.idxField)
		}
		paid, err := a.settleOne(ctx, o, kind, idx, int(n), c, bankName, adapter, item)
		if err != nil {
			return count, err
		}
		if paid {
			count++
		}
	}
	return count, nil
}

// settleOne pays one obligation at most once. Under the obligation's lock
// it re-reads ledger state, skips anything already paid, pays through the
// adapter and records the payment. Once the adapter has been called the
// caller's cancellation no longer applies.
func (a *AppContext) settleOne(ctx context.Context, o obligation, kind model.Kind, idx, obIdx int, c model.Record, bankName string, adapter bank.Adapter, item map[string]any) (bool, error) {
	key := obligationKey{kind: kind, idx: idx, what: o.name, index: obIdx}
	unlock := a.locks.Lock(key)
	defer unlock()

	if m, ok := a.marks.get(key); ok && m.state == markHazard {
		return false, newError(ClassReconciliation, nil, "%s %d was paid (reference %s) but never recorded; reconcile it before settling again", o.name, obIdx, m.reference)
	}

	if err := a.Cache.Invalidate(ctx, o.keys(kind, idx)...); err != nil {
		logger.Warn(ctx, "failed to invalidate before fresh read", "error", err)
	}
	rows, err := a.obligationRows(ctx, o, kind, idx)
	if err != nil {
		return false, err
	}
	row, ok := rows[obIdx]
	if !ok {
		return false, validationf("%s %d does not exist", o.name, obIdx)
	}
	if r := row.Amount(o.paidField); r.IsPositive() {
		a.marks.settled(key)
		logger.Info(ctx, "obligation already paid, skipping", "obligation", o.name, "index", obIdx)
		return false, nil
	}
	if m, ok := a.marks.get(key); ok {
		// The read predates our own write; drop what it put in the cache.
		if err := a.Cache.Invalidate(ctx, o.keys(kind, idx)...); err != nil {
			logger.Warn(ctx, "failed to drop lagging read from cache", "error", err)
		}
		logger.Info(ctx, "obligation paid but ledger read is lagging, skipping", "obligation", o.name, "index", obIdx, "reference", m.reference)
		return false, nil
	}
	amount := row.Amount(o.amtField)
	if !amount.IsPositive() {
		return false, validationf("%s %d has nothing to pay", o.name, obIdx)
	}

	funder, recipient, err := a.partyAddrs(ctx, kind, idx, o)
	if err != nil {
		return false, err
	}
	src := bank.Instruction(c.Object("funding_instr"))
	if ref, ok := item["tx_hash"]; ok {
		src["tx_hash"] = ref
	}
	src["contract_type"] = string(kind)
	src["contract_idx"] = idx
	src["funder_addr"] = funder
	src["recipient_addr"] = recipient
	src["amount"] = money.Format(amount)
	params, err := a.Banks.PaymentParams(bankName, src)
	if err != nil {
		return false, newError(ClassConfiguration, err, "cannot pay %s %d through %s: %v", o.name, obIdx, bankName, err)
	}

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("settle %s %d cancelled before payment: %w", o.name, obIdx, err)
	}

	detached := context.WithoutCancel(ctx)
	ref, err := adapter.MakePayment(detached, params)
	if err != nil {
		a.Metrics.Payment(bankName, o.name, "failed")
		return false, newError(ClassAdapterPayment, err, "%s payment for %s %d failed", bankName, o.name, obIdx)
	}
	a.Metrics.Payment(bankName, o.name, "ok")
	a.marks.set(key, markPaid, ref)

	wctx, cancel := context.WithTimeout(detached, a.writeTimeout)
	defer cancel()
	at := a.now().UTC()
	if _, err := a.Ledger.Write(wctx, ledger.Pay(o.method, obIdx, at, money.ToMinor(amount), ref), a.signer, kind, idx); err != nil {
		a.marks.set(key, markHazard, ref)
		return false, a.hazard(detached, kind, idx, o, obIdx, bankName, amount, ref, err)
	}

	if err := a.Cache.Invalidate(detached, o.keys(kind, idx)...); err != nil {
		logger.Error(ctx, "cache invalidation failed after payment write", "obligation", o.name, "index", obIdx, "error", err)
	}
	logger.Info(ctx, "obligation paid", "obligation", o.name, "index", obIdx, "bank", bankName, "amount", money.Format(amount), "reference", ref)
	return true, nil
}

// ReconcileObligation releases an obligation held back after a
// reconciliation hazard, once an operator has settled it by hand. If the
// ledger still shows it unpaid it becomes payable again.
func (a *AppContext) ReconcileObligation(ctx context.Context, kind model.Kind, idx int, name string, obIdx int) error {
	ctx = contractContext(ctx, kind, idx)
	o, ok := obligationByName(name)
	if !ok {
		return validationf("unknown obligation %q", name)
	}
	if !o.applicable(kind) {
		return validationf("%s contracts have no %ss", kind, o.name)
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return err
	}

	key := obligationKey{kind: kind, idx: idx, what: o.name, index: obIdx}
	unlock := a.locks.Lock(key)
	defer unlock()

	m, ok := a.marks.get(key)
	if !ok || m.state != markHazard {
		return newError(ClassNotFound, nil, "%s %d has no open reconciliation hazard", o.name, obIdx)
	}
	a.marks.clear(key)
	if err := a.Cache.Invalidate(ctx, o.keys(kind, idx)...); err != nil {
		logger.Warn(ctx, "failed to invalidate after reconcile", "error", err)
	}
	logger.Warn(ctx, "reconciliation hazard cleared", "obligation", o.name, "index", obIdx, "reference", m.reference)
	return nil
}

func obligationByName(name string) (obligation, bool) {
	for _, o := range []obligation{advanceObligation, residualObligation, distributionObligation} {
		if o.name == name {
			return o, true
		}
	}
	return obligation{}, false
}

// hazard reports a payment the ledger did not record. It is never retried.
func (a *AppContext) hazard(ctx context.Context, kind model.Kind, idx int, o obligation, obIdx int, bankName string, amount decimal.Decimal, ref string, cause error) error {
	h := Hazard{
		ContractType:  string(kind),
		ContractIdx:   idx,
		Obligation:    o.name,
		ObligationIdx: obIdx,
		Bank:          bankName,
		Amount:        money.Format(amount),
		Reference:     ref,
		Error:         cause.Error(),
		At:            a.now().UTC(),
	}
	logger.Critical(ctx, "RECONCILIATION HAZARD: payment sent but ledger write failed",
		"obligation", o.name, "index", obIdx, "bank", bankName,
		"amount", h.Amount, "reference", ref, "error", cause)
	a.Metrics.Hazard()
	if err := a.Hazards.Publish(ctx, h); err != nil {
		logger.Critical(ctx, "failed to publish reconciliation hazard", "error", err)
	}

	msg := fmt.Sprintf("%s %d was paid (reference %s) but the ledger was not updated; manual reconciliation required", o.name, obIdx, ref)
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = fmt.Sprintf("%s %d was paid (reference %s) but the ledger write timed out; manual reconciliation required", o.name, obIdx, ref)
	}
	return newError(ClassReconciliation, cause, "%s", msg)
}
