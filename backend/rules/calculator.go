package rules

import (
	"fmt"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/money"
	"github.com/shopspring/decimal"
)

// OverrideKey in transaction data replaces the rule result outright.
const OverrideKey = "adj"

// Fees is the per-transaction split derived from the contract terms.
type Fees struct {
	ServiceFee decimal.Decimal
	Advance    decimal.Decimal
}

// TransactAmount computes a transaction's amount in minor units. A present
// "adj" value wins over the rule; otherwise the rule must evaluate to a number.
func TransactAmount(rule Expr, data map[string]any) (int64, error) {
	if adj, ok := data[OverrideKey]; ok {
		d, err := money.FromAny(adj)
		if err != nil {
			return 0, fmt.Errorf("%w: override %q: %v", ErrCalculation, OverrideKey, err)
		}
		return money.ToMinor(d), nil
	}

	if rule == nil {
		return 0, fmt.Errorf("%w: contract has no transaction logic", ErrCalculation)
	}
	v, err := Eval(rule, data)
	if err != nil {
		return 0, err
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		return 0, fmt.Errorf("%w: rule produced %T, not a number", ErrCalculation, v)
	}
	return money.ToMinor(d), nil
}

// DeriveFees splits a transaction amount:
//
//	service_fee = floor2(fee_pct * amount + fee_amt)
//	advance     = max(0, floor2(amount * advance_pct - service_fee))
func DeriveFees(amount, feePct, feeAmt, advancePct decimal.Decimal) Fees {
	fee := money.Floor2(feePct.Mul(amount).Add(feeAmt))
	adv := money.Max(decimal.Zero, money.Floor2(amount.Mul(advancePct).Sub(fee)))
	return Fees{ServiceFee: fee, Advance: adv}
}
