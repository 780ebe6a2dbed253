package service

import (
	"context"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/bank"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/cache"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/ledger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
)

// GetDeposits asks the contract's deposit rail for payments received in
// [start, end].
func (a *AppContext) GetDeposits(ctx context.Context, kind model.Kind, idx int, start, end time.Time) ([]bank.Deposit, error) {
	ctx = contractContext(ctx, kind, idx)
	if !kind.HasDeposits() {
		return nil, validationf("%s contracts do not take deposits", kind)
	}
	if end.Before(start) {
		return nil, validationf("end date is before start date")
	}
	c, err := a.contract(ctx, kind, idx)
	if err != nil {
		return nil, err
	}
	bankName := c.Str("deposit_instr", "bank")
	adapter, err := a.Banks.Adapter(bankName)
	if err != nil {
		return nil, newError(ClassConfiguration, err, "contract deposit bank %q is not available", bankName)
	}
	funders, err := a.partiesByType(ctx, kind, idx, model.PartyFunder)
	if err != nil {
		return nil, err
	}

	src := bank.Instruction(c.Object("deposit_instr"))
	src["start_date"] = start
	src["end_date"] = end
	src["contract"] = c
	if len(funders) > 0 {
		src["parties"] = funders
	}
	params, err := a.Banks.DepositParams(bankName, src)
	if err != nil {
		return nil, newError(ClassConfiguration, err, "cannot query %s deposits: %v", bankName, err)
	}

	deposits, err := adapter.GetDeposits(ctx, params)
	if err != nil {
		return nil, newError(ClassAdapterPayment, err, "failed to fetch %s deposits", bankName)
	}
	logger.Info(ctx, "fetched deposits", "bank", bankName, "count", len(deposits))
	return deposits, nil
}

// PostDeposits records deposits as settlement payments. Each item names
// settle_idx, deposit_dt, deposit_amt and deposit_id, with an optional
// dispute_reason. Items are validated before any write.
func (a *AppContext) PostDeposits(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error) {
	ctx = contractContext(ctx, kind, idx)
	if !kind.HasDeposits() {
		return 0, validationf("%s contracts do not take deposits", kind)
	}
	if err := a.ValidateIndex(ctx, kind, idx); err != nil {
		return 0, err
	}
	settles, err := a.records(ctx, ledger.EntitySettlement, kind, idx, model.SettlementLayout(kind), nil)
	if err != nil {
		return 0, err
	}

	calls := make([]ledger.Call, 0, len(items))
	seen := make(map[int64]int, len(items))
	for i, item := range items {
		n, err := model.IntValue(item["settle_idx"])
		if err != nil || n < 0 || int(n) >= len(settles) {
			return 0, validationf("deposit %d: settle_idx is invalid", i)
		}
		if first, dup := seen[n]; dup {
			return 0, validationf("deposit %d: settlement %d is already posted by deposit %d", i, n, first)
		}
		seen[n] = i
		if settles[n].Amount("settle_pay_amt").IsPositive() {
			return 0, validationf("deposit %d: settlement %d already has a posted deposit", i, n)
		}
		at, err := model.ParseTime(item["deposit_dt"])
		if err != nil {
			return 0, validationf("deposit %d: deposit_dt: %v", i, err)
		}
		amt, err := money.FromAny(item["deposit_amt"])
		if err != nil {
			return 0, validationf("deposit %d: deposit_amt: %v", i, err)
		}
		if !amt.IsPositive() || !money.HasPlaces(amt, 2) {
			return 0, validationf("deposit %d: deposit_amt must be positive with at most 2 decimals", i)
		}
		ref, _ := item["deposit_id"].(string)
		if ref == "" {
			return 0, validationf("deposit %d: deposit_id is required", i)
		}
		reason, _ := item["dispute_reason"].(string)
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		calls = append(calls, ledger.PostSettlement(int(n), day, money.ToMinor(amt), ref, reason))
	}

	count := 0
	for _, call := range calls {
		if err := a.write(ctx, call, kind, idx, cache.SettlementKey(kind, idx)); err != nil {
			if count > 0 {
				logger.Warn(ctx, "deposit batch partially written", "written", count, "total", len(calls))
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// Accounts lists the accounts of a rail that exposes them.
func (a *AppContext) Accounts(ctx context.Context, bankName string) ([]bank.Account, error) {
	lister, err := a.lister(bankName)
	if err != nil {
		return nil, err
	}
	accounts, err := lister.Accounts(ctx)
	if err != nil {
		return nil, newError(ClassAdapterPayment, err, "failed to list %s accounts", bankName)
	}
	return accounts, nil
}

func (a *AppContext) Recipients(ctx context.Context, bankName string) ([]bank.Recipient, error) {
	lister, err := a.lister(bankName)
	if err != nil {
		return nil, err
	}
	recipients, err := lister.Recipients(ctx)
	if err != nil {
		return nil, newError(ClassAdapterPayment, err, "failed to list %s recipients", bankName)
	}
	return recipients, nil
}

func (a *AppContext) lister(bankName string) (bank.AccountLister, error) {
	adapter, err := a.Banks.Adapter(bankName)
	if err != nil {
		return nil, newError(ClassValidation, err, "unknown bank %q", bankName)
	}
	lister, ok := adapter.(bank.AccountLister)
	if !ok {
		return nil, newError(ClassValidation, bank.ErrUnsupported, "%s does not list accounts", bankName)
	}
	return lister, nil
}
